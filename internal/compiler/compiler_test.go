package compiler

import (
	"errors"
	"testing"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/program"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, src string) *program.Program {
	t.Helper()
	prog, err := New(nil).CompileString(src)
	require.NoError(t, err)
	return prog
}

func TestCompileLiteralText(t *testing.T) {
	prog := compile(t, "<p>hello</p>")
	require.Len(t, prog.Nodes, 1)
	assert.Equal(t, program.KindText, prog.Nodes[0].Kind)
	assert.Equal(t, "<p>hello</p>", prog.Nodes[0].Text)
	assert.Equal(t, program.FormatVersion, prog.Version)
	assert.Equal(t, program.Hash([]byte("<p>hello</p>")), prog.SourceHash)
}

func TestCompileEmptySource(t *testing.T) {
	prog := compile(t, "")
	assert.Empty(t, prog.Nodes)
}

func TestCompileInterpolationModes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		mode program.PrintMode
		path string
	}{
		{"escaped", "{{ title }}", program.ModeEscape, "title"},
		{"no spaces", "{{title}}", program.ModeEscape, "title"},
		{"raw", "{{ body|none }}", program.ModeRaw, "body"},
		{"pipeline", "{{ body|upper }}", program.ModePipeline, "body"},
		{"dotted", "{{ user.name }}", program.ModeEscape, "user.name"},
		{"indexed", "{{ items[2].label }}", program.ModeEscape, "items[2].label"},
		{"numeric dot", "{{ items.0 }}", program.ModeEscape, "items[0]"},
		{"quoted key", `{{ meta['content-type'] }}`, program.ModeEscape, "meta.content-type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := compile(t, tt.src)
			require.Len(t, prog.Nodes, 1)
			node := prog.Nodes[0]
			assert.Equal(t, program.KindPrint, node.Kind)
			assert.Equal(t, tt.mode, node.Mode)
			assert.Equal(t, tt.path, node.Path.String())
		})
	}
}

func TestCompilePipelineOrder(t *testing.T) {
	prog := compile(t, "{{ x|upper|lower }}")
	calls := prog.Nodes[0].Pipeline
	require.Len(t, calls, 2)
	assert.Equal(t, "upper", calls[0].Filter, "first written filter is applied first")
	assert.Equal(t, "lower", calls[1].Filter)
	assert.Equal(t, []program.Arg{{Piped: true}}, calls[0].Args)
}

func TestCompilePlaceholder(t *testing.T) {
	prog := compile(t, "{{ created|date ('%B %e', %s) }}")
	call := prog.Nodes[0].Pipeline[0]
	assert.Equal(t, "date", call.Filter)
	require.Len(t, call.Args, 2)
	require.NotNil(t, call.Args[0].Literal)
	assert.Equal(t, "%B %e", call.Args[0].Literal.Text)
	assert.True(t, call.Args[1].Piped)

	prog = compile(t, "{{ s|replace(%s, 'a', 'b') }}")
	args := prog.Nodes[0].Pipeline[0].Args
	require.Len(t, args, 3)
	assert.True(t, args[0].Piped, "value goes where the placeholder is")
	assert.Equal(t, "a", args[1].Literal.Text)
}

func TestCompileAppendsValueWithoutPlaceholder(t *testing.T) {
	prog := compile(t, "{{ tags|join(' | ') }}")
	args := prog.Nodes[0].Pipeline[0].Args
	require.Len(t, args, 2)
	assert.Equal(t, " | ", args[0].Literal.Text, "pipe inside quotes is not a filter separator")
	assert.True(t, args[1].Piped)
}

func TestCompileLiterals(t *testing.T) {
	prog := compile(t, `{{ x|replace("say \"hi\"", 'it\'s', %s) }}`)
	args := prog.Nodes[0].Pipeline[0].Args
	assert.Equal(t, `say "hi"`, args[0].Literal.Text)
	assert.Equal(t, "it's", args[1].Literal.Text)

	prog = compile(t, "{{ x|truncate(+10) }}")
	assert.Equal(t, &program.Literal{Kind: program.LiteralInt, Text: "10"}, prog.Nodes[0].Pipeline[0].Args[0].Literal)
}

func TestCompileBlocks(t *testing.T) {
	src := "{% foreach items %}{% if loop_value == 'b' %}B{% end %}{{ loop_value }}{% end %}"
	prog := compile(t, src)
	require.Len(t, prog.Nodes, 6)

	kinds := make([]program.NodeKind, len(prog.Nodes))
	for i, n := range prog.Nodes {
		kinds[i] = n.Kind
	}
	assert.Equal(t, []program.NodeKind{
		program.KindForeach, program.KindIf, program.KindText, program.KindEnd, program.KindPrint, program.KindEnd,
	}, kinds)

	assert.Equal(t, 5, prog.Nodes[0].Jump)
	assert.Equal(t, 3, prog.Nodes[1].Jump)
	require.NotNil(t, prog.Nodes[1].Cond)
	assert.Equal(t, program.OpEqual, prog.Nodes[1].Cond.Op)
	assert.Equal(t, &program.Literal{Kind: program.LiteralString, Text: "b"}, prog.Nodes[1].Cond.Literal)
	assert.NoError(t, prog.Validate())
}

func TestCompileConditions(t *testing.T) {
	tests := []struct {
		src  string
		op   program.CondOp
		lit  *program.Literal
		path string
	}{
		{"{% if flag %}{% end %}", program.OpTruthy, nil, "flag"},
		{"{% if flag == false %}{% end %}", program.OpEqual, &program.Literal{Kind: program.LiteralBool, Text: "false"}, "flag"},
		{"{% if n==3 %}{% end %}", program.OpEqual, &program.Literal{Kind: program.LiteralInt, Text: "3"}, "n"},
		{"{% if ratio == 0.50 %}{% end %}", program.OpEqual, &program.Literal{Kind: program.LiteralFloat, Text: "0.5"}, "ratio"},
		{"{% if owner == null %}{% end %}", program.OpEqual, &program.Literal{Kind: program.LiteralNull}, "owner"},
		{`{% if a.b == "x == y" %}{% end %}`, program.OpEqual, &program.Literal{Kind: program.LiteralString, Text: "x == y"}, "a.b"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			node := compile(t, tt.src).Nodes[0]
			require.NotNil(t, node.Cond)
			assert.Equal(t, tt.op, node.Cond.Op)
			assert.Equal(t, tt.lit, node.Cond.Literal)
			assert.Equal(t, tt.path, node.Path.String())
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		want  error
		token string
		line  int
	}{
		{"unknown block", "{% bogus x %}", verrors.ErrUnknownBlock, "bogus x", 1},
		{"unknown block no arg", "a\nb\n{% bogus %}", verrors.ErrUnknownBlock, "bogus", 3},
		{"foreach without arg", "{% foreach %}", verrors.ErrMalformedTag, "foreach", 1},
		{"if without arg", "{% if %}{% end %}", verrors.ErrMalformedTag, "if", 1},
		{"empty block", "{% %}", verrors.ErrMalformedTag, "", 1},
		{"end with arg", "{% if a %}{% end if %}", verrors.ErrMalformedTag, "end if", 1},
		{"negation", "{% if !flag %}{% end %}", verrors.ErrMalformedTag, "if !flag", 1},
		{"not equal", "{% if a != 1 %}{% end %}", verrors.ErrMalformedTag, "if a != 1", 1},
		{"connective", "{% if a && b %}{% end %}", verrors.ErrMalformedTag, "if a && b", 1},
		{"bare word literal", "{% if a == b %}{% end %}", verrors.ErrMalformedTag, "if a == b", 1},
		{"stray end", "x\n{% end %}", verrors.ErrUnbalancedEnd, "end", 2},
		{"unclosed", "{% foreach items %}\n{% if a %}{% end %}", verrors.ErrUnclosedBlock, "foreach items", 1},
		{"empty interpolation", "{{ }}", verrors.ErrMalformedTag, "", 1},
		{"bad path", "{{ a..b }}", verrors.ErrMalformedTag, "a..b", 1},
		{"unknown filter", "{{ a|shout }}", verrors.ErrUnknownFilter, "shout", 1},
		{"none not first", "{{ a|upper|none }}", verrors.ErrUnknownFilter, "none", 1},
		{"none with others", "{{ a|none|upper }}", verrors.ErrMalformedTag, "a|none|upper", 1},
		{"empty filter", "{{ a| }}", verrors.ErrMalformedTag, "", 1},
		{"arity", "{{ a|upper(1) }}", verrors.ErrFilterArity, "upper(1)", 1},
		{"two placeholders", "{{ a|join(%s, %s) }}", verrors.ErrMalformedTag, "join(%s, %s)", 1},
		{"missing parens", "{{ a|join ', ' }}", verrors.ErrMalformedTag, "join ', '", 1},
		{"bad literal", "{{ a|truncate(ten) }}", verrors.ErrMalformedTag, "truncate(ten)", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := New(nil).CompileString(tt.src)
			require.Error(t, err)
			assert.Nil(t, prog)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var ve *verrors.ViewError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.token, ve.Token)
			assert.Equal(t, tt.line, ve.Line)
		})
	}
}

func TestCompileClosersInsideQuotes(t *testing.T) {
	prog := compile(t, "<p>{{ s|default('}}') }}</p>")
	require.Len(t, prog.Nodes, 3)
	assert.Equal(t, "}}", prog.Nodes[1].Pipeline[0].Args[0].Literal.Text)
	assert.Equal(t, "</p>", prog.Nodes[2].Text)

	prog = compile(t, `{{ s|replace("}}", 'it\'s }}', %s) }}!`)
	args := prog.Nodes[0].Pipeline[0].Args
	require.Len(t, args, 3)
	assert.Equal(t, "}}", args[0].Literal.Text)
	assert.Equal(t, "it's }}", args[1].Literal.Text)
	assert.Equal(t, "!", prog.Nodes[1].Text)

	prog = compile(t, "{% if mode == '%}' %}x{% end %}")
	require.Len(t, prog.Nodes, 3)
	assert.Equal(t, "%}", prog.Nodes[0].Cond.Literal.Text)
}

func TestCompileLeavesUnterminatedTagsAsText(t *testing.T) {
	prog := compile(t, "a {{ b\n}} c {% if")
	require.Len(t, prog.Nodes, 1)
	assert.Equal(t, "a {{ b\n}} c {% if", prog.Nodes[0].Text)
}

func TestCompileTracksLines(t *testing.T) {
	prog := compile(t, "line1\nline2 {{ a }}\n\n{% if b %}x{% end %}")
	var lines []int
	for _, n := range prog.Nodes {
		if n.Kind != program.KindText {
			lines = append(lines, n.Line)
		}
	}
	assert.Equal(t, []int{2, 4, 4}, lines)
}

func TestCompileIsIdempotent(t *testing.T) {
	src := `<h1>{{ title|upper }}</h1>{% foreach posts %}<a href="{{ loop_value.url }}">{{ loop_value.title|truncate(20) }}</a>{% end %}`
	codec := program.JSONCodec{}

	first, err := codec.Encode(compile(t, src))
	require.NoError(t, err)
	second, err := codec.Encode(compile(t, src))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
