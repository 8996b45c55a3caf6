package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const errorBaseSrc = `---
id: error-base
name: Error Base
description: Base error-handling conventions.
version: 1.0.0
tags:
  - errors
---

# Rules

@rule
Always wrap errors with context.

@rule
Never discard an error silently.

# Examples

@example lang=go
` + "```go\nif err != nil {\n\treturn fmt.Errorf(\"do thing: %w\", err)\n}\n```" + `
`

func TestParseCompileRoundTrip(t *testing.T) {
	s, err := Parse("error-base.md", []byte(errorBaseSrc))
	require.NoError(t, err)
	require.Equal(t, "error-base", s.Frontmatter.ID)
	require.Len(t, s.Sections, 2)
	require.Len(t, s.Sections[0].Blocks, 2)
	require.Len(t, s.Sections[1].Blocks, 1)

	view1 := Compile(s)
	s2, err := Parse("error-base.md", view1.Bytes)
	require.NoError(t, err)
	view2 := Compile(s2)

	require.Equal(t, view1.Bytes, view2.Bytes, "compile must be byte-stable across a parse round trip")
}

func TestCompileDeterministic(t *testing.T) {
	s, err := Parse("error-base.md", []byte(errorBaseSrc))
	require.NoError(t, err)

	a := Compile(s)
	b := Compile(s)
	require.Equal(t, a.Bytes, b.Bytes)
	require.Equal(t, a.Lens, b.Lens)
}

func TestLensRangesAreValid(t *testing.T) {
	s, err := Parse("error-base.md", []byte(errorBaseSrc))
	require.NoError(t, err)
	view := Compile(s)

	for id, rng := range view.Lens {
		require.True(t, rng.Start >= 0 && rng.End <= len(view.Bytes), "block %s out of range", id)
		require.True(t, rng.Start <= rng.End, "block %s inverted range", id)
	}
}

func TestUnknownBlockTag(t *testing.T) {
	src := `---
id: bad
name: Bad
description: d
---

# Section

@bogus
content
`
	_, err := Parse("bad.md", []byte(src))
	require.Error(t, err)
}

func TestUnterminatedFence(t *testing.T) {
	src := "---\nid: bad\nname: Bad\ndescription: d\n---\n\n# Section\n\n@example lang=go\n```go\nfmt.Println(1)\n"
	_, err := Parse("bad.md", []byte(src))
	require.Error(t, err)
}

func TestEmptySpecCompilesStably(t *testing.T) {
	src := "---\nid: empty\nname: Empty\ndescription: nothing here\n---\n"
	s, err := Parse("empty.md", []byte(src))
	require.NoError(t, err)
	require.NoError(t, Validate(s))
	view := Compile(s)
	require.Contains(t, string(view.Bytes), "id: empty")
}

func TestValidateRejectsBadID(t *testing.T) {
	src := "---\nid: Bad_ID\nname: x\ndescription: d\n---\n"
	s, err := Parse("bad.md", []byte(src))
	require.NoError(t, err)
	require.Error(t, Validate(s))
}

func TestSlugFromPath(t *testing.T) {
	require.Equal(t, "rust-error", SlugFromPath("skills/project/Rust Error.md"))
}
