// Package predicate implements the small boolean expression language
// spec.md §4.1 describes for overlay/packer/loader gating: atoms over tool
// versions, package versions, environment variables, and file globs,
// combined with &&, ||, ! and parens, with semver-aware comparisons.
//
// No expression-language or semver dependency in the retrieved example
// pack carries real usage to ground against (see DESIGN.md), so this is a
// small hand-rolled recursive-descent parser rather than a borrowed
// library.
package predicate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/flexigpt/skillregistry-go/spec"
)

// Expr is a parsed predicate, ready to Eval against a ResolutionContext.
type Expr interface {
	Eval(ctx spec.ResolutionContext) bool
	String() string
}

// Parse compiles a predicate source string. An empty string is treated as
// "always true" by callers (unconditional content has no predicate); Parse
// itself rejects the empty string so callers make that choice explicitly.
func Parse(src string) (Expr, error) {
	p := &parser{toks: tokenize(src), src: src}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("predicate %q: unexpected trailing token %q", src, p.toks[p.pos].text)
	}
	return e, nil
}

// MustTrue evaluates an optional predicate string: "" is unconditional
// (true); anything else must parse and fails closed to false on any parse
// or evaluation problem it cannot resolve (unknown atoms evaluate false
// per spec.md §4.1).
func MustTrue(src string, ctx spec.ResolutionContext) bool {
	if strings.TrimSpace(src) == "" {
		return true
	}
	e, err := Parse(src)
	if err != nil {
		return false
	}
	return e.Eval(ctx)
}

// ---- tokens ----

type tokKind int

const (
	tokAtom tokKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

func tokenize(src string) []token {
	var out []token
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, token{tokLParen, "("})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")"})
			i++
		case c == '!':
			out = append(out, token{tokNot, "!"})
			i++
		case c == '&' && i+1 < n && src[i+1] == '&':
			out = append(out, token{tokAnd, "&&"})
			i += 2
		case c == '|' && i+1 < n && src[i+1] == '|':
			out = append(out, token{tokOr, "||"})
			i += 2
		default:
			j := i
			for j < n && !strings.ContainsRune(" \t\n\r()", rune(src[j])) {
				// "!" ends an atom unless it starts the != operator
				if src[j] == '!' && (j+1 >= n || src[j+1] != '=') {
					break
				}
				// allow && / || to terminate an atom without a space
				if src[j] == '&' || src[j] == '|' {
					break
				}
				j++
			}
			if j == i {
				j++
			}
			out = append(out, token{tokAtom, src[i:j]})
			i = j
		}
	}
	return out
}

type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	t, ok := p.peek()
	if ok && t.kind == tokNot {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("predicate %q: unexpected end of input", p.src)
	}
	if t.kind == tokLParen {
		p.pos++
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		close, ok := p.peek()
		if !ok || close.kind != tokRParen {
			return nil, fmt.Errorf("predicate %q: missing closing paren", p.src)
		}
		p.pos++
		return e, nil
	}
	if t.kind != tokAtom {
		return nil, fmt.Errorf("predicate %q: expected atom, found %q", p.src, t.text)
	}
	p.pos++
	return parseAtom(t.text)
}

// ---- boolean combinators ----

type andExpr struct{ l, r Expr }

func (e andExpr) Eval(ctx spec.ResolutionContext) bool { return e.l.Eval(ctx) && e.r.Eval(ctx) }
func (e andExpr) String() string                       { return fmt.Sprintf("(%s && %s)", e.l, e.r) }

type orExpr struct{ l, r Expr }

func (e orExpr) Eval(ctx spec.ResolutionContext) bool { return e.l.Eval(ctx) || e.r.Eval(ctx) }
func (e orExpr) String() string                       { return fmt.Sprintf("(%s || %s)", e.l, e.r) }

type notExpr struct{ e Expr }

func (e notExpr) Eval(ctx spec.ResolutionContext) bool { return !e.e.Eval(ctx) }
func (e notExpr) String() string                       { return fmt.Sprintf("!%s", e.e) }

// ---- atoms ----

type op string

const (
	opEq op = "=="
	opNe op = "!="
	opGe op = ">="
	opLe op = "<="
	opGt op = ">"
	opLt op = "<"
)

var ops = []op{opGe, opLe, opEq, opNe, opGt, opLt} // longest-prefix first

type toolAtom struct {
	name string
	op   op
	ver  string
}

func (a toolAtom) Eval(ctx spec.ResolutionContext) bool {
	v, ok := ctx.ToolVersions[a.name]
	if !ok {
		return false // unknown atom -> false, fail closed
	}
	return compareSemver(v, a.op, a.ver)
}
func (a toolAtom) String() string { return fmt.Sprintf("tool:%s%s%s", a.name, a.op, a.ver) }

type pkgAtom struct {
	name string
	op   op
	ver  string
}

func (a pkgAtom) Eval(ctx spec.ResolutionContext) bool {
	v, ok := ctx.Packages[a.name]
	if !ok {
		return false
	}
	return compareSemver(v, a.op, a.ver)
}
func (a pkgAtom) String() string { return fmt.Sprintf("pkg:%s%s%s", a.name, a.op, a.ver) }

type envAtom struct{ name string }

func (a envAtom) Eval(ctx spec.ResolutionContext) bool {
	v, ok := ctx.Env[a.name]
	return ok && v != ""
}
func (a envAtom) String() string { return "env:" + a.name }

type fileAtom struct{ glob string }

func (a fileAtom) Eval(ctx spec.ResolutionContext) bool {
	for _, f := range ctx.Files {
		if ok, _ := filepath.Match(a.glob, f); ok {
			return true
		}
		if f == a.glob {
			return true
		}
	}
	return false
}
func (a fileAtom) String() string { return "file:" + a.glob }

func parseAtom(s string) (Expr, error) {
	switch {
	case strings.HasPrefix(s, "tool:"):
		name, o, ver, err := splitVersioned(strings.TrimPrefix(s, "tool:"))
		if err != nil {
			return nil, fmt.Errorf("tool atom %q: %w", s, err)
		}
		return toolAtom{name, o, ver}, nil
	case strings.HasPrefix(s, "pkg:"):
		name, o, ver, err := splitVersioned(strings.TrimPrefix(s, "pkg:"))
		if err != nil {
			return nil, fmt.Errorf("pkg atom %q: %w", s, err)
		}
		return pkgAtom{name, o, ver}, nil
	case strings.HasPrefix(s, "env:"):
		return envAtom{strings.TrimPrefix(s, "env:")}, nil
	case strings.HasPrefix(s, "file:"):
		return fileAtom{strings.TrimPrefix(s, "file:")}, nil
	default:
		return nil, fmt.Errorf("unknown atom %q", s)
	}
}

func splitVersioned(s string) (name string, o op, ver string, err error) {
	for _, cand := range ops {
		if idx := strings.Index(s, string(cand)); idx >= 0 {
			return s[:idx], cand, s[idx+len(cand):], nil
		}
	}
	return "", "", "", fmt.Errorf("missing comparison operator in %q", s)
}

// ---- minimal semver comparator ----
// Restricted to the MAJOR.MINOR.PATCH shape spec.md needs; no prerelease/
// build-metadata precedence rules are implemented (documented in
// DESIGN.md as an accepted simplification).

func parseSemver(v string) (maj, min, patch int, ok bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.SplitN(v, ".", 3)
	nums := make([]int, 3)
	for i := 0; i < 3; i++ {
		if i >= len(parts) {
			break
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}

func compareSemver(actual string, o op, want string) bool {
	aMaj, aMin, aPatch, ok1 := parseSemver(actual)
	wMaj, wMin, wPatch, ok2 := parseSemver(want)
	if !ok1 || !ok2 {
		return false
	}
	cmp := 0
	switch {
	case aMaj != wMaj:
		cmp = sign(aMaj - wMaj)
	case aMin != wMin:
		cmp = sign(aMin - wMin)
	default:
		cmp = sign(aPatch - wPatch)
	}
	switch o {
	case opEq:
		return cmp == 0
	case opNe:
		return cmp != 0
	case opGe:
		return cmp >= 0
	case opLe:
		return cmp <= 0
	case opGt:
		return cmp > 0
	case opLt:
		return cmp < 0
	default:
		return false
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
