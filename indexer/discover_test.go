package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, skillFileName), []byte("---\nid: x\nname: X\ndescription: d\n---\n"), 0o644))
}

func TestDiscoverOrdersByLayerThenPath(t *testing.T) {
	base := t.TempDir()
	project := t.TempDir()

	writeSkill(t, filepath.Join(base, "zzz"))
	writeSkill(t, filepath.Join(base, "aaa"))
	writeSkill(t, filepath.Join(project, "mid"))

	candidates, err := Discover([]LayerRoot{
		{Layer: "base", Root: base},
		{Layer: "project", Root: project},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	require.Equal(t, "base", candidates[0].Layer)
	require.Equal(t, "base", candidates[1].Layer)
	require.Less(t, candidates[0].Path, candidates[1].Path)
	require.Equal(t, "project", candidates[2].Layer)
}

func TestDiscoverSkipsMissingRoot(t *testing.T) {
	candidates, err := Discover([]LayerRoot{
		{Layer: "community", Root: filepath.Join(t.TempDir(), "does-not-exist")},
	})
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestDiscoverIgnoresNonSkillFiles(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "real"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a skill"), 0o644))

	candidates, err := Discover([]LayerRoot{{Layer: "base", Root: dir}})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}
