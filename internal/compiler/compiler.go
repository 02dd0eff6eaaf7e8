// Package compiler lowers template source into a program.Program.
//
// Two tag syntaxes are recognised and everything else is copied verbatim:
//
//	{{ path }}                 escaped interpolation
//	{{ path|none }}            raw interpolation
//	{{ path|f|g('x', %s) }}    filter pipeline, applied left to right
//	{% foreach path %} … {% end %}
//	{% if path %} … {% end %}
//	{% if path == literal %} … {% end %}
//
// A tag must open and close on the same line. An opener without a closer is
// left as literal text. Quoted literals may contain }} and %}.
package compiler

import (
	"bytes"
	"regexp"
	"strings"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/filters"
	"github.com/conneroisu/vista/internal/program"
)

// tagPattern matches both syntaxes in one pass. They are lexically
// disjoint, so a single scan is equivalent to rewriting one after the other.
// Quoted literals are consumed whole, so a closer inside quotes does not end
// the tag; a lone quote falls back to an ordinary character.
var tagPattern = regexp.MustCompile(
	`\{\{((?:'(?:\\.|[^'\\\n])*'|"(?:\\.|[^"\\\n])*"|[^\n])*?)\}\}` +
		`|\{%((?:'(?:\\.|[^'\\\n])*'|"(?:\\.|[^"\\\n])*"|[^\n])*?)%\}`)

// Block keywords.
const (
	blockForeach = "foreach"
	blockIf      = "if"
	blockEnd     = "end"
)

// Compiler turns template source into programs. It is safe for concurrent
// use as long as the filter registry is.
type Compiler struct {
	filters *filters.Registry
}

// New creates a compiler that validates filter names against reg. A nil reg
// uses the built-in filters.
func New(reg *filters.Registry) *Compiler {
	if reg == nil {
		reg = filters.Default()
	}
	return &Compiler{filters: reg}
}

// Compile lowers source into a program. The result depends only on source
// and the registered filter names, so compiling the same text twice yields
// equal programs.
func (c *Compiler) Compile(source []byte) (*program.Program, error) {
	text := string(source)
	prog := &program.Program{
		Version:    program.FormatVersion,
		SourceHash: program.Hash(source),
		Nodes:      []program.Node{},
	}

	var open []int
	line, pos := 1, 0

	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > pos {
			prog.Nodes = append(prog.Nodes, program.Node{Kind: program.KindText, Line: line, Text: text[pos:start]})
			line += strings.Count(text[pos:start], "\n")
		}
		pos = end

		if m[2] >= 0 {
			node, err := c.interpolation(strings.TrimSpace(text[m[2]:m[3]]))
			if err != nil {
				return nil, err.WithLine(line)
			}
			node.Line = line
			prog.Nodes = append(prog.Nodes, node)
			continue
		}

		node, err := block(strings.TrimSpace(text[m[4]:m[5]]))
		if err != nil {
			return nil, err.WithLine(line)
		}
		node.Line = line
		idx := len(prog.Nodes)

		switch node.Kind {
		case program.KindEnd:
			if len(open) == 0 {
				return nil, verrors.NewCompileError(verrors.CodeUnbalancedEnd,
					"end without an open block", node.Tag).WithLine(line)
			}
			prog.Nodes[open[len(open)-1]].Jump = idx
			open = open[:len(open)-1]
		default:
			open = append(open, idx)
		}
		prog.Nodes = append(prog.Nodes, node)
	}

	if pos < len(text) {
		prog.Nodes = append(prog.Nodes, program.Node{Kind: program.KindText, Line: line, Text: text[pos:]})
	}

	if len(open) > 0 {
		unclosed := prog.Nodes[open[len(open)-1]]
		return nil, verrors.NewCompileError(verrors.CodeUnclosedBlock,
			"block is never closed with {% end %}", unclosed.Tag).WithLine(unclosed.Line)
	}

	return prog, nil
}

// CompileString is a convenience wrapper around Compile.
func (c *Compiler) CompileString(source string) (*program.Program, error) {
	return c.Compile([]byte(source))
}

func (c *Compiler) interpolation(body string) (program.Node, *verrors.ViewError) {
	node := program.Node{Kind: program.KindPrint, Tag: body}
	if body == "" {
		return node, malformed("empty interpolation tag", body)
	}

	segments := splitOutsideQuotes(body, '|')
	path, err := parsePath(strings.TrimSpace(segments[0]))
	if err != nil {
		return node, err.WithToken(body)
	}
	node.Path = path

	calls := segments[1:]
	switch {
	case len(calls) == 0:
		node.Mode = program.ModeEscape
		return node, nil
	case strings.TrimSpace(calls[0]) == filters.Bypass:
		if len(calls) > 1 {
			return node, malformed("the none filter cannot be combined with other filters", body)
		}
		node.Mode = program.ModeRaw
		return node, nil
	}

	node.Mode = program.ModePipeline
	for _, seg := range calls {
		call, err := c.call(strings.TrimSpace(seg))
		if err != nil {
			return node, err
		}
		node.Pipeline = append(node.Pipeline, call)
	}
	return node, nil
}

// call parses one filter segment: name, name(args…) or name (args…).
func (c *Compiler) call(seg string) (program.Call, *verrors.ViewError) {
	var call program.Call
	if seg == "" {
		return call, malformed("empty filter in pipeline", seg)
	}

	n := identLen(seg)
	if n == 0 {
		return call, malformed("filter name expected", seg)
	}
	call.Filter = seg[:n]
	rest := strings.TrimSpace(seg[n:])

	if call.Filter == filters.Bypass {
		return call, verrors.NewCompileError(verrors.CodeUnknownFilter,
			"the none filter is only recognised as the first filter", seg)
	}
	f, ok := c.filters.Lookup(call.Filter)
	if !ok {
		return call, verrors.NewCompileError(verrors.CodeUnknownFilter, "unknown filter "+call.Filter, seg)
	}

	if rest != "" {
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return call, malformed("filter arguments must be wrapped in parentheses", seg)
		}
		inner := strings.TrimSpace(rest[1 : len(rest)-1])
		if inner != "" {
			for _, raw := range splitOutsideQuotes(inner, ',') {
				tok := strings.TrimSpace(raw)
				if tok == "%s" {
					call.Args = append(call.Args, program.Arg{Piped: true})
					continue
				}
				lit, err := parseLiteral(tok)
				if err != nil {
					return call, err.WithToken(seg)
				}
				call.Args = append(call.Args, program.Arg{Literal: lit})
			}
		}
	}

	piped := 0
	for _, a := range call.Args {
		if a.Piped {
			piped++
		}
	}
	switch piped {
	case 0:
		call.Args = append(call.Args, program.Arg{Piped: true})
	case 1:
	default:
		return call, malformed("the %s placeholder may appear only once", seg)
	}

	if err := f.CheckArity(len(call.Args)); err != nil {
		return call, verrors.NewCompileError(verrors.CodeFilterArity, err.Error(), seg)
	}
	return call, nil
}

func block(body string) (program.Node, *verrors.ViewError) {
	node := program.Node{Tag: body}
	keyword, arg := body, ""
	if i := strings.IndexAny(body, " \t"); i >= 0 {
		keyword, arg = body[:i], strings.TrimSpace(body[i+1:])
	}

	switch keyword {
	case blockEnd:
		if arg != "" {
			return node, malformed("end takes no argument", body)
		}
		node.Kind = program.KindEnd
		return node, nil
	case blockForeach, blockIf:
	case "":
		return node, malformed("empty block tag", body)
	default:
		return node, verrors.NewCompileError(verrors.CodeUnknownBlock, "unknown block "+keyword, body)
	}

	if arg == "" {
		return node, malformed(keyword+" requires an argument", body)
	}

	if keyword == blockForeach {
		path, err := parsePath(arg)
		if err != nil {
			return node, err.WithToken(body)
		}
		node.Kind = program.KindForeach
		node.Path = path
		return node, nil
	}

	node.Kind = program.KindIf
	lhs, rhs, isEq := cutOutsideQuotes(arg, "==")
	path, err := parsePath(strings.TrimSpace(lhs))
	if err != nil {
		return node, err.WithToken(body)
	}
	node.Path = path
	if !isEq {
		node.Cond = &program.Condition{Op: program.OpTruthy}
		return node, nil
	}
	lit, err := parseLiteral(strings.TrimSpace(rhs))
	if err != nil {
		return node, err.WithToken(body)
	}
	node.Cond = &program.Condition{Op: program.OpEqual, Literal: lit}
	return node, nil
}

func malformed(msg, token string) *verrors.ViewError {
	return verrors.NewCompileError(verrors.CodeMalformedTag, msg, token)
}

// splitOutsideQuotes splits s on sep, ignoring separators inside single or
// double quoted strings.
func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// cutOutsideQuotes is strings.Cut that ignores quoted occurrences of sep.
func cutOutsideQuotes(s, sep string) (before, after string, found bool) {
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case strings.HasPrefix(s[i:], sep):
			return s[:i], s[i+len(sep):], true
		}
	}
	return s, "", false
}

// unquote decodes a single or double quoted literal. Only the quote
// character and the backslash can be escaped.
func unquote(tok string) (string, bool) {
	if len(tok) < 2 {
		return "", false
	}
	q := tok[0]
	if (q != '\'' && q != '"') || tok[len(tok)-1] != q {
		return "", false
	}
	var b bytes.Buffer
	body := tok[1 : len(tok)-1]
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch == '\\' && i+1 < len(body) && (body[i+1] == q || body[i+1] == '\\') {
			i++
			ch = body[i]
		} else if ch == q {
			return "", false
		}
		b.WriteByte(ch)
	}
	return b.String(), true
}
