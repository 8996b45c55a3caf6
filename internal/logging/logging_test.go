package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: "debug", LogDir: dir})
	require.NoError(t, err)

	logger.Info().Msg("hello")

	matches, err := filepath.Glob(filepath.Join(dir, "skillregistryd_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, "info", parseLevel("").String())
	require.Equal(t, "info", parseLevel("not-a-level").String())
	require.Equal(t, "debug", parseLevel("debug").String())
}
