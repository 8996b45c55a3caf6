// Package compiler implements the C1 Spec Model & Compiler: parse(bytes)
// -> Spec, compile(Spec) -> (bytes, Lens), and validate(Spec) -> error.
//
// Grammar (documented byte-exactly, resolving the Open Question spec.md
// §9 leaves unspecified): a leading YAML frontmatter block delimited by
// `---` lines, followed by a body that is a flat line scan. A line
// matching `^#\s+(.+)$` opens a section (its id is the slug of the heading
// text). A line matching `^@(\w+)(.*)$` opens a block: the word is the
// block kind keyword, the remainder of the line is a space-separated
// `key=value` attribute list. Block content runs until the next `@`/`#`
// marker or end of file, trimmed to a single trailing newline.
//
// Grounded on the frontmatter/body split in
// _examples/flexigpt-agentskills-go/fsskillprovider/skillmd.go
// (splitFrontmatter, readAllLimitedAndDigest), generalized here from one
// frontmatter+body pair to frontmatter + many sections/blocks.
package compiler

import (
	"regexp"
	"strings"
)

const frontmatterDelim = "---"

var (
	sectionHeadingRe = regexp.MustCompile(`^#\s+(.+)$`)
	blockMarkerRe    = regexp.MustCompile(`^@(\w+)(.*)$`)
	fenceRe          = regexp.MustCompile("^```(\\w*)\\s*$")
)

// blockKindKeywords maps the grammar's `@kind` keyword to a spec.BlockKind.
var blockKindKeywords = map[string]string{
	"rule":           "rule",
	"example":        "example",
	"pitfall":        "pitfall",
	"checklist_item": "checklist_item",
	"context":        "context",
	"policy":         "policy",
	"command":        "command",
	"reference":      "reference",
}

// parseAttrs splits a `key=value key2="quoted value"` attribute tail into
// a map. Values may be bare tokens or double-quoted strings.
func parseAttrs(tail string) map[string]string {
	out := map[string]string{}
	tail = strings.TrimSpace(tail)
	i := 0
	n := len(tail)
	for i < n {
		for i < n && tail[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		keyStart := i
		for i < n && tail[i] != '=' && tail[i] != ' ' {
			i++
		}
		key := tail[keyStart:i]
		if i >= n || tail[i] != '=' {
			// attribute with no value; skip token.
			continue
		}
		i++ // skip '='
		var val string
		if i < n && tail[i] == '"' {
			i++
			valStart := i
			for i < n && tail[i] != '"' {
				i++
			}
			val = tail[valStart:i]
			if i < n {
				i++ // skip closing quote
			}
		} else {
			valStart := i
			for i < n && tail[i] != ' ' {
				i++
			}
			val = tail[valStart:i]
		}
		if key != "" {
			out[key] = val
		}
	}
	return out
}
