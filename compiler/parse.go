package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flexigpt/skillregistry-go/spec"
)

// frontmatterDoc mirrors the ordered key set compile() renders; yaml.v3
// unmarshals into it leniently (missing keys are zero values).
type frontmatterDoc struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Tags        []string `yaml:"tags"`
	Requires    []string `yaml:"requires"`
	Provides    []string `yaml:"provides"`
	Platforms   []string `yaml:"platforms"`
	Extends     string   `yaml:"extends"`
	Includes    []struct {
		Skill    string   `yaml:"skill"`
		Into     string   `yaml:"into"`
		Prefix   string   `yaml:"prefix"`
		Sections []string `yaml:"sections"`
		Position string   `yaml:"position"`
	} `yaml:"includes"`
	ReplaceRule          bool     `yaml:"replace_rule"`
	ReplaceExample       bool     `yaml:"replace_example"`
	ReplacePitfall       bool     `yaml:"replace_pitfall"`
	ReplaceChecklistItem bool     `yaml:"replace_checklist_item"`
	ReplaceContext       bool     `yaml:"replace_context"`
	ReplacePolicy        bool     `yaml:"replace_policy"`
	ReplaceCommand       bool     `yaml:"replace_command"`
	ReplaceReference     bool     `yaml:"replace_reference"`
	Aliases              []string `yaml:"aliases"`
	Deprecated           struct {
		Deprecated bool   `yaml:"deprecated"`
		ReplacedBy string `yaml:"replaced_by"`
		Reason     string `yaml:"reason"`
	} `yaml:"deprecated"`
}

// Parse parses a skill source file's bytes into a Spec. path is used for
// error reporting (spec.md §4.1 ParseError{path, line, kind}), to derive
// the id when the frontmatter has none, and as the Spec's SourcePath.
func Parse(path string, src []byte) (spec.Spec, error) {
	text := string(src)

	fm, body, fmLines, err := splitFrontmatter(text)
	if err != nil {
		return spec.Spec{}, spec.NewParseError(spec.KindMalformedSpec, path, 1, err.Error())
	}

	var doc frontmatterDoc
	if err := yaml.Unmarshal([]byte(fm), &doc); err != nil {
		return spec.Spec{}, spec.NewParseError(spec.KindMalformedSpec, path, 1, "invalid frontmatter YAML: "+err.Error())
	}
	if strings.TrimSpace(doc.ID) == "" {
		doc.ID = SlugFromPath(path)
	}

	fmObj := spec.Frontmatter{
		ID: doc.ID, Name: doc.Name, Description: doc.Description, Version: doc.Version,
		Tags: doc.Tags, Requires: doc.Requires, Provides: doc.Provides, Platforms: doc.Platforms,
		Extends: doc.Extends,
		Replace: spec.ReplaceFlags{
			Rule: doc.ReplaceRule, Example: doc.ReplaceExample, Pitfall: doc.ReplacePitfall,
			ChecklistItem: doc.ReplaceChecklistItem, Context: doc.ReplaceContext,
			Policy: doc.ReplacePolicy, Command: doc.ReplaceCommand, Reference: doc.ReplaceReference,
		},
		Aliases: doc.Aliases,
		Deprecated: spec.DeprecatedRecord{
			Deprecated: doc.Deprecated.Deprecated,
			ReplacedBy: doc.Deprecated.ReplacedBy,
			Reason:     doc.Deprecated.Reason,
		},
	}
	for _, inc := range doc.Includes {
		pos := inc.Position
		if pos == "" {
			pos = "append"
		}
		fmObj.Includes = append(fmObj.Includes, spec.IncludeDirective{
			Skill: inc.Skill, Into: inc.Into, Prefix: inc.Prefix, Sections: inc.Sections, Position: pos,
		})
	}

	sections, err := parseBody(path, body, fmLines+1)
	if err != nil {
		return spec.Spec{}, err
	}

	return spec.Spec{Frontmatter: fmObj, Sections: sections, SourcePath: path}, nil
}

// splitFrontmatter separates a leading `---`-delimited YAML block from the
// rest of the document, returning the frontmatter text, the remaining
// body, and the 1-based line number of the closing delimiter (the body
// starts on the line after it; used for error reporting in the body scan).
func splitFrontmatter(text string) (fm, body string, bodyStartLine int, err error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelim {
		return "", text, 1, fmt.Errorf("missing opening frontmatter delimiter")
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelim {
			end = i
			break
		}
	}
	if end < 0 {
		return "", "", 0, fmt.Errorf("unterminated frontmatter (missing closing ---)")
	}
	fm = strings.Join(lines[1:end], "\n")
	body = strings.Join(lines[end+1:], "\n")
	return fm, body, end + 1, nil
}

// parseBody scans the body into sections/blocks per the grammar in
// grammar.go. startLine is the 1-based source line the body's first line
// corresponds to, for accurate ParseError line numbers.
func parseBody(path, body string, startLine int) ([]spec.Section, error) {
	lines := strings.Split(body, "\n")

	var sections []spec.Section
	var curSection *spec.Section
	var curBlock *spec.Block
	var curBlockLines []string
	var curBlockAttrs map[string]string
	var curBlockStartLine int
	inFence := false

	flushBlock := func(endLine int) error {
		if curBlock == nil {
			return nil
		}
		if inFence {
			return spec.NewParseError(spec.KindUnterminatedBlock, path, curBlockStartLine,
				fmt.Sprintf("unterminated code fence in %s block", curBlock.Kind))
		}
		content := strings.Join(curBlockLines, "\n")
		content = strings.TrimRight(content, "\n") + "\n"
		if strings.TrimSpace(content) == "" {
			content = ""
		}
		curBlock.Content = content
		if curBlock.Kind == spec.KindExample {
			lang := curBlockAttrs["lang"]
			code := extractFence(content)
			curBlock.Example = &spec.ExamplePayload{Language: lang, Code: code}
		}
		if curBlock.Kind == spec.KindCommand {
			curBlock.Command = &spec.CommandPayload{
				Shell:   curBlockAttrs["shell"],
				Recipe:  strings.TrimSpace(extractFence(content)),
				Workdir: curBlockAttrs["workdir"],
			}
		}
		curBlock.Predicate = curBlockAttrs["if"]
		curBlock.BlockID = blockID(curSection.SectionID, string(curBlock.Kind), curBlock.Content)
		curSection.Blocks = append(curSection.Blocks, *curBlock)
		curBlock = nil
		curBlockLines = nil
		curBlockAttrs = nil
		return nil
	}

	for i, line := range lines {
		lineNo := startLine + i

		if fenceRe.MatchString(line) && curBlock != nil {
			inFence = !inFence
			curBlockLines = append(curBlockLines, line)
			continue
		}
		if inFence {
			curBlockLines = append(curBlockLines, line)
			continue
		}

		if m := sectionHeadingRe.FindStringSubmatch(line); m != nil {
			if err := flushBlock(lineNo); err != nil {
				return nil, err
			}
			heading := strings.TrimSpace(m[1])
			sections = append(sections, spec.Section{SectionID: Slugify(heading), Heading: heading})
			curSection = &sections[len(sections)-1]
			continue
		}

		if m := blockMarkerRe.FindStringSubmatch(line); m != nil {
			if err := flushBlock(lineNo); err != nil {
				return nil, err
			}
			kw := m[1]
			kind, ok := blockKindKeywords[kw]
			if !ok {
				return nil, spec.NewParseError(spec.KindUnknownBlockTag, path, lineNo, fmt.Sprintf("unknown block tag %q", kw))
			}
			if curSection == nil {
				sections = append(sections, spec.Section{SectionID: "untitled", Heading: ""})
				curSection = &sections[len(sections)-1]
			}
			curBlockAttrs = parseAttrs(m[2])
			curBlock = &spec.Block{Kind: spec.BlockKind(kind)}
			curBlockStartLine = lineNo
			continue
		}

		if curBlock != nil {
			curBlockLines = append(curBlockLines, line)
		}
		// lines outside any block (e.g. blank lines between markers) are
		// dropped; they carry no semantic content per the grammar.
	}
	if err := flushBlock(startLine + len(lines)); err != nil {
		return nil, err
	}
	return sections, nil
}

// extractFence strips a block's outer ``` fence, returning the inner code.
// Content without a fence is returned unchanged (non-example blocks are
// plain prose and need no fence).
func extractFence(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) < 2 {
		return content
	}
	if !fenceRe.MatchString(lines[0]) {
		return content
	}
	last := len(lines) - 1
	if strings.TrimSpace(lines[last]) != "```" {
		return content
	}
	return strings.Join(lines[1:last], "\n")
}

// blockID deterministically derives a block's stable id: sha256 of
// section id + kind + a content prefix, hex-truncated. Grounded on the
// "sha256:" + hex digest pattern in
// fsskillprovider/skillmd.go:readAllLimitedAndDigest, adapted from a
// whole-file digest to a per-block one.
func blockID(sectionID, kind, content string) string {
	prefix := content
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	h := sha256.New()
	h.Write([]byte(sectionID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(prefix))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// contentHash is the stable hash of a skill's canonical compiled
// serialization (spec.md invariant 6). It is computed over the compiled
// bytes, not the raw source, so two sources that compile identically hash
// identically (see DESIGN.md's resolution of the content_hash Open
// Question).
func contentHash(compiled []byte) string {
	sum := sha256.Sum256(compiled)
	return hex.EncodeToString(sum[:])
}

// ContentHash exposes contentHash for callers outside this package
// (indexer, store) that need to compute a skill's content_hash from its
// compiled view.
func ContentHash(compiled []byte) string { return contentHash(compiled) }
