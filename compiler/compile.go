package compiler

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flexigpt/skillregistry-go/spec"
)

// Compile renders a Spec to its canonical compiled view: a byte-stable
// markdown rendering plus a Lens mapping each block id to its byte range
// in the output. compile is a pure function of its input (spec.md
// invariant 1): no map iteration over unordered keys, no timestamps, no
// locale-sensitive formatting reach the output.
func Compile(s spec.Spec) spec.CompiledView {
	var buf bytes.Buffer

	buf.WriteString(frontmatterDelim)
	buf.WriteByte('\n')
	buf.Write(renderFrontmatter(s.Frontmatter))
	buf.WriteString(frontmatterDelim)
	buf.WriteByte('\n')

	lens := spec.Lens{}
	for _, sec := range s.Sections {
		buf.WriteByte('\n')
		buf.WriteString("# ")
		buf.WriteString(sec.Heading)
		buf.WriteByte('\n')
		for _, b := range sec.Blocks {
			buf.WriteByte('\n')
			start := buf.Len()
			writeBlock(&buf, b)
			end := buf.Len()
			lens[b.BlockID] = spec.ByteRange{Start: start, End: end}
		}
	}

	out := strings.TrimRight(buf.String(), "\n") + "\n"
	return spec.CompiledView{Bytes: []byte(out), Lens: shiftLensForTrim(lens, buf.String(), out)}
}

// shiftLensForTrim re-anchors byte ranges recorded against the untrimmed
// buffer onto the final trimmed-and-single-newline output. Since trimming
// only removes trailing bytes, ranges are unaffected unless they extend
// past the new length, which happens when the last block's own trailing
// newlines are trimmed (for example an empty last block); such ranges are
// clamped to the new length.
func shiftLensForTrim(lens spec.Lens, before, after string) spec.Lens {
	if len(after) >= len(before) {
		return lens
	}
	out := make(spec.Lens, len(lens))
	for k, v := range lens {
		if v.End > len(after) {
			v.End = len(after)
		}
		if v.Start > len(after) {
			v.Start = len(after)
		}
		out[k] = v
	}
	return out
}

func writeBlock(buf *bytes.Buffer, b spec.Block) {
	attrs := ""
	if b.Predicate != "" {
		attrs += fmt.Sprintf(" if=%q", b.Predicate)
	}
	switch b.Kind {
	case spec.KindExample:
		lang := ""
		code := b.Content
		if b.Example != nil {
			lang = b.Example.Language
			code = b.Example.Code
		}
		fmt.Fprintf(buf, "@example lang=%s%s\n", lang, attrs)
		buf.WriteString("```")
		buf.WriteString(lang)
		buf.WriteByte('\n')
		buf.WriteString(strings.TrimRight(code, "\n"))
		buf.WriteByte('\n')
		buf.WriteString("```")
		buf.WriteByte('\n')
	case spec.KindCommand:
		shell := ""
		recipe := b.Content
		workdir := ""
		if b.Command != nil {
			shell = b.Command.Shell
			recipe = b.Command.Recipe
			workdir = b.Command.Workdir
		}
		if workdir != "" {
			attrs += fmt.Sprintf(" workdir=%q", workdir)
		}
		fmt.Fprintf(buf, "@command shell=%s%s\n", shell, attrs)
		buf.WriteString("```")
		buf.WriteString(shell)
		buf.WriteByte('\n')
		buf.WriteString(strings.TrimRight(recipe, "\n"))
		buf.WriteByte('\n')
		buf.WriteString("```")
		buf.WriteByte('\n')
	default:
		fmt.Fprintf(buf, "@%s%s\n", b.Kind, attrs)
		buf.WriteString(strings.TrimRight(b.Content, "\n"))
		buf.WriteByte('\n')
	}
}

// renderFrontmatter marshals frontmatter fields in the fixed canonical
// key order spec.md §4.1 requires, using yaml.v3's ordered-map support
// (yaml.Node) rather than a plain map (which would iterate in
// nondeterministic key order).
func renderFrontmatter(fm spec.Frontmatter) []byte {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	add := func(key string, val *yaml.Node) {
		if val == nil {
			return
		}
		node.Content = append(node.Content, scalar(key), val)
	}

	add("id", scalarIfSet(fm.ID))
	add("name", scalarIfSet(fm.Name))
	add("description", scalarIfSet(fm.Description))
	add("version", scalarIfSet(fm.Version))
	add("tags", seqIfSet(fm.Tags))
	add("requires", seqIfSet(fm.Requires))
	add("provides", seqIfSet(fm.Provides))
	add("platforms", seqIfSet(fm.Platforms))
	add("extends", scalarIfSet(fm.Extends))
	add("includes", includesSeq(fm.Includes))
	add("replace_rule", boolIfTrue(fm.Replace.Rule))
	add("replace_example", boolIfTrue(fm.Replace.Example))
	add("replace_pitfall", boolIfTrue(fm.Replace.Pitfall))
	add("replace_checklist_item", boolIfTrue(fm.Replace.ChecklistItem))
	add("replace_context", boolIfTrue(fm.Replace.Context))
	add("replace_policy", boolIfTrue(fm.Replace.Policy))
	add("replace_command", boolIfTrue(fm.Replace.Command))
	add("replace_reference", boolIfTrue(fm.Replace.Reference))
	add("aliases", seqIfSet(fm.Aliases))
	add("deprecated", deprecatedMap(fm.Deprecated))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(node)
	_ = enc.Close()
	return buf.Bytes()
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func scalarIfSet(s string) *yaml.Node {
	if s == "" {
		return nil
	}
	return scalar(s)
}

func boolIfTrue(b bool) *yaml.Node {
	if !b {
		return nil
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"}
}

func seqIfSet(items []string) *yaml.Node {
	if len(items) == 0 {
		return nil
	}
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, it := range items {
		n.Content = append(n.Content, scalar(it))
	}
	return n
}

func includesSeq(incs []spec.IncludeDirective) *yaml.Node {
	if len(incs) == 0 {
		return nil
	}
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, inc := range incs {
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		m.Content = append(m.Content, scalar("skill"), scalar(inc.Skill))
		m.Content = append(m.Content, scalar("into"), scalar(inc.Into))
		if inc.Prefix != "" {
			m.Content = append(m.Content, scalar("prefix"), scalar(inc.Prefix))
		}
		if len(inc.Sections) > 0 {
			m.Content = append(m.Content, scalar("sections"), seqIfSet(inc.Sections))
		}
		if inc.Position != "" && inc.Position != "append" {
			m.Content = append(m.Content, scalar("position"), scalar(inc.Position))
		}
		n.Content = append(n.Content, m)
	}
	return n
}

func deprecatedMap(d spec.DeprecatedRecord) *yaml.Node {
	if !d.Deprecated {
		return nil
	}
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, scalar("deprecated"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"})
	if d.ReplacedBy != "" {
		m.Content = append(m.Content, scalar("replaced_by"), scalar(d.ReplacedBy))
	}
	if d.Reason != "" {
		m.Content = append(m.Content, scalar("reason"), scalar(d.Reason))
	}
	return m
}

// sortedSectionIDs returns a spec's section ids in sorted order. Neither
// compile nor validate calls it; compile preserves declaration order per
// spec.md §4.1.
func sortedSectionIDs(s spec.Spec) []string {
	ids := make([]string, 0, len(s.Sections))
	for _, sec := range s.Sections {
		ids = append(ids, sec.SectionID)
	}
	sort.Strings(ids)
	return ids
}
