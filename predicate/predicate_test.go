package predicate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexigpt/skillregistry-go/spec"
)

func ctxFixture() spec.ResolutionContext {
	return spec.ResolutionContext{
		ToolVersions: map[string]string{"go": "1.25.5", "node": "18.2.0"},
		Packages:     map[string]string{"react": "18.3.1"},
		Env:          map[string]string{"CI": "true"},
		Files:        []string{"go.mod", "cmd/skillregistryd/main.go"},
	}
}

func TestAtoms(t *testing.T) {
	ctx := ctxFixture()

	cases := []struct {
		expr string
		want bool
	}{
		{"tool:go>=1.20.0", true},
		{"tool:go>=2.0.0", false},
		{"pkg:react>=18.0.0", true},
		{"pkg:react<18.0.0", false},
		{"env:CI", true},
		{"env:MISSING", false},
		{"file:go.mod", true},
		{"file:*.missing", false},
		{"tool:unknown==1.0.0", false}, // unknown atom fails closed
	}
	for _, c := range cases {
		e, err := Parse(c.expr)
		require.NoError(t, err, c.expr)
		require.Equal(t, c.want, e.Eval(ctx), c.expr)
	}
}

func TestCombinators(t *testing.T) {
	ctx := ctxFixture()

	e, err := Parse("tool:go>=1.20.0 && (env:CI || file:missing.txt)")
	require.NoError(t, err)
	require.True(t, e.Eval(ctx))

	e, err = Parse("!env:CI")
	require.NoError(t, err)
	require.False(t, e.Eval(ctx))
}

func TestMustTrueEmptyIsUnconditional(t *testing.T) {
	require.True(t, MustTrue("", ctxFixture()))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("tool:go")
	require.Error(t, err)

	_, err = Parse("(env:CI")
	require.Error(t, err)

	require.False(t, MustTrue("(env:CI", ctxFixture())) // parse error fails closed
}
