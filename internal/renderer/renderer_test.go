package renderer

import (
	"errors"
	"testing"
	"time"

	"github.com/conneroisu/vista/internal/compiler"
	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/filters"
	"github.com/conneroisu/vista/internal/program"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, src string, data interface{}) (string, error) {
	t.Helper()
	prog, err := compiler.New(nil).CompileString(src)
	require.NoError(t, err)
	return New(nil).Execute(prog, data)
}

func mustRender(t *testing.T, src string, data interface{}) string {
	t.Helper()
	out, err := render(t, src, data)
	require.NoError(t, err)
	return out
}

type author struct {
	Name  string
	Email string `json:"email_address"`
	tags  []string
}

type post struct {
	Title  string
	Author *author
	Tags   []string
}

type Base struct {
	ID int
}

type page struct {
	*Base
	Title string
}

func TestExecutePrint(t *testing.T) {
	data := map[string]interface{}{
		"title": `<b>"Tom" & 'Jerry'</b>`,
		"n":     42,
		"ratio": 0.5,
		"flag":  false,
		"none":  nil,
		"items": []string{"a", "b", "c"},
		"meta":  map[string]string{"content-type": "text/html"},
	}

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"text only", "<p>hi</p>", "<p>hi</p>"},
		{"escaped", "{{ title }}", "&lt;b&gt;&quot;Tom&quot; &amp; &#039;Jerry&#039;&lt;/b&gt;"},
		{"raw", "{{ title|none }}", `<b>"Tom" & 'Jerry'</b>`},
		{"int", "{{ n }}", "42"},
		{"float", "{{ ratio }}", "0.5"},
		{"bool", "{{ flag }}", "false"},
		{"nil prints empty", "[{{ none }}]", "[]"},
		{"index", "{{ items[1] }}{{ items.2 }}", "bc"},
		{"quoted key", "{{ meta['content-type'] }}", "text/html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustRender(t, tt.src, data))
		})
	}
}

func TestExecuteFilterOutputIsNotEscaped(t *testing.T) {
	out := mustRender(t, "{{ s|nl2br }}", map[string]string{"s": "a\nb"})
	assert.Equal(t, "a<br />\nb", out)
}

func TestExecutePipelineOrder(t *testing.T) {
	data := map[string]string{"x": "Hello World"}

	assert.Equal(t, "hello world", mustRender(t, "{{ x|upper|lower }}", data))
	assert.Equal(t, "HELLO...", mustRender(t, "{{ x|upper|truncate(5) }}", data))
	assert.Equal(t, "HeLLo WorLd", mustRender(t, "{{ x|replace('l', 'L') }}", data))
	assert.Equal(t, "He__o Wor_d", mustRender(t, "{{ x|replace('l', '_', %s) }}", data))
}

func TestExecutePlaceholder(t *testing.T) {
	created := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)
	out := mustRender(t, "{{ created|date('%B %d, %Y', %s) }}", map[string]interface{}{"created": created})
	assert.Equal(t, "March 09, 2024", out)
}

func TestExecuteLoop(t *testing.T) {
	src := "{% foreach items %}{{ loop_index }}:{{ loop_value }};{% end %}"

	assert.Equal(t, "0:a;1:b;", mustRender(t, src, map[string]interface{}{"items": []string{"a", "b"}}))
	assert.Equal(t, "", mustRender(t, src, map[string]interface{}{"items": []string{}}))
	assert.Equal(t, "", mustRender(t, src, map[string]interface{}{"items": nil}))
	assert.Equal(t, "a:1;b:2;c:3;", mustRender(t, src, map[string]interface{}{
		"items": map[string]int{"c": 3, "a": 1, "b": 2},
	}))
}

func TestExecuteNestedLoopsShadowAndRestore(t *testing.T) {
	src := "{% foreach rows %}[{% foreach loop_value %}{{ loop_index }}{{ loop_value }}{% end %}]{{ loop_index }}{% end %}"
	data := map[string]interface{}{
		"rows": [][]string{{"a", "b"}, {"c"}},
	}
	assert.Equal(t, "[0a1b]0[0c]1", mustRender(t, src, data))
}

func TestExecuteLoopBindingsOutsideLoop(t *testing.T) {
	_, err := render(t, "{{ loop_value }}", map[string]string{})
	assert.True(t, errors.Is(err, verrors.ErrMissingField))

	out := mustRender(t, "{{ loop_value }}", map[string]string{"loop_value": "data"})
	assert.Equal(t, "data", out)
}

func TestExecuteEmbeddedFields(t *testing.T) {
	p := page{Base: &Base{ID: 7}, Title: "Home"}
	assert.Equal(t, "7 Home", mustRender(t, "{{ p.ID }} {{ p.Title }}", map[string]interface{}{"p": p}))
	assert.Equal(t, "7", mustRender(t, "{{ ID }}", &p))
}

func TestExecuteClosersInsideLiterals(t *testing.T) {
	out := mustRender(t, "<{{ s|replace('}}', 'x') }}>", map[string]string{"s": "a}}b"})
	assert.Equal(t, "<axb>", out)
}

func TestExecuteLoopOverStruct(t *testing.T) {
	src := "{% foreach a %}{{ loop_index }}={{ loop_value }};{% end %}"
	a := author{Name: "Ada", Email: "ada@example.com", tags: []string{"x"}}
	assert.Equal(t, "Name=Ada;Email=ada@example.com;", mustRender(t, src, map[string]interface{}{"a": &a}))

	src = "{% foreach p %}{{ loop_index }}={{ loop_value }};{% end %}"
	assert.Equal(t, "ID=3;Title=t;", mustRender(t, src, map[string]interface{}{"p": page{Base: &Base{ID: 3}, Title: "t"}}))
	assert.Equal(t, "Title=t;", mustRender(t, src, map[string]interface{}{"p": page{Title: "t"}}))
}

func TestExecuteLoopOverNonIterable(t *testing.T) {
	_, err := render(t, "{% foreach n %}x{% end %}", map[string]int{"n": 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, verrors.ErrNotIterable))
}

func TestExecuteConditionals(t *testing.T) {
	src := "{% if flag == false %}{{ flag }}{% end %}"
	assert.Equal(t, "", mustRender(t, src, map[string]interface{}{"flag": true}))
	assert.Equal(t, "false", mustRender(t, src, map[string]interface{}{"flag": false}))
	assert.Equal(t, "", mustRender(t, src, map[string]interface{}{"flag": 0}), "zero is not exactly false")

	tests := []struct {
		name string
		src  string
		data interface{}
		want string
	}{
		{"truthy string", "{% if s %}yes{% end %}", map[string]interface{}{"s": "x"}, "yes"},
		{"empty string", "{% if s %}yes{% end %}", map[string]interface{}{"s": ""}, ""},
		{"zero", "{% if n %}yes{% end %}", map[string]interface{}{"n": 0}, ""},
		{"empty slice", "{% if l %}yes{% end %}", map[string]interface{}{"l": []int{}}, ""},
		{"nil", "{% if v %}yes{% end %}", map[string]interface{}{"v": nil}, ""},
		{"int equality", "{% if n == 3 %}yes{% end %}", map[string]interface{}{"n": 3}, "yes"},
		{"int equals float", "{% if n == 3.0 %}yes{% end %}", map[string]interface{}{"n": int64(3)}, "yes"},
		{"float from json", "{% if n == 3 %}yes{% end %}", map[string]interface{}{"n": float64(3)}, "yes"},
		{"number is not string", "{% if s == 3 %}yes{% end %}", map[string]interface{}{"s": "3"}, ""},
		{"string equality", "{% if s == 'on' %}yes{% end %}", map[string]interface{}{"s": "on"}, "yes"},
		{"string mismatch", "{% if s == 'on' %}yes{% end %}", map[string]interface{}{"s": "off"}, ""},
		{"null", "{% if v == null %}yes{% end %}", map[string]interface{}{"v": nil}, "yes"},
		{"null not empty string", "{% if v == null %}yes{% end %}", map[string]interface{}{"v": ""}, ""},
		{"nested blocks", "{% foreach l %}{% if loop_value == 'b' %}[{{ loop_index }}]{% end %}{% end %}",
			map[string]interface{}{"l": []string{"a", "b", "c"}}, "[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustRender(t, tt.src, tt.data))
		})
	}
}

func TestExecuteMissingField(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data interface{}
	}{
		{"missing key", "{{ title }}", map[string]string{}},
		{"missing nested", "{{ user.name }}", map[string]interface{}{"user": map[string]string{}}},
		{"out of range", "{{ items[5] }}", map[string][]int{"items": {1}}},
		{"nil pointer", "{{ post.Author.Name }}", map[string]interface{}{"post": &post{}}},
		{"unexported field", "{{ a.tags }}", map[string]interface{}{"a": author{}}},
		{"nil embedded pointer", "{{ p.ID }}", map[string]interface{}{"p": page{Title: "x"}}},
		{"nil embedded pointer in condition", "{% if p.ID == 1 %}x{% end %}", map[string]interface{}{"p": &page{}}},
		{"in condition", "{% if flag %}x{% end %}", map[string]string{}},
		{"in loop", "{% foreach items %}x{% end %}", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := render(t, "prefix "+tt.src, tt.data)
			require.Error(t, err)
			assert.Empty(t, out, "no partial output")
			assert.True(t, errors.Is(err, verrors.ErrMissingField), "got %v", err)
			assert.True(t, verrors.IsRenderError(err))
		})
	}
}

func TestExecuteStructs(t *testing.T) {
	p := &post{
		Title:  "Hello",
		Author: &author{Name: "Ada", Email: "ada@example.com"},
		Tags:   []string{"go", "web"},
	}

	out := mustRender(t, "{{ Title }} by {{ Author.Name }} <{{ Author.email_address }}> {{ author.name }} {{ Tags|join(', ') }}", p)
	assert.Equal(t, "Hello by Ada <ada@example.com> Ada go, web", out)
}

func TestExecuteRootNormalization(t *testing.T) {
	assert.Equal(t, "b", mustRender(t, "{{ 1 }}", []string{"a", "b"}))
	assert.Equal(t, "static", mustRender(t, "static", nil))

	_, err := render(t, "x", 42)
	assert.True(t, errors.Is(err, verrors.ErrBadContext))
}

func TestExecuteFilterFailure(t *testing.T) {
	_, err := render(t, "{{ n|join(',') }}", map[string]int{"n": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, verrors.ErrFilterFailed))

	var ve *verrors.ViewError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "n|join(',')", ve.Token)
	assert.Equal(t, 1, ve.Line)
}

func TestExecuteCustomFilter(t *testing.T) {
	reg := filters.NewRegistry()
	require.NoError(t, reg.Register(filters.Filter{
		Name:    "shout",
		MinArgs: 1,
		MaxArgs: 1,
		Fn: func(args ...interface{}) (interface{}, error) {
			s, _ := filters.ToString(args[0])
			return s + "!", nil
		},
	}))

	prog, err := compiler.New(reg).CompileString("{{ word|shout }}")
	require.NoError(t, err)

	out, err := New(reg).Execute(prog, map[string]string{"word": "hey"})
	require.NoError(t, err)
	assert.Equal(t, "hey!", out)

	_, err = New(filters.NewRegistry()).Execute(prog, map[string]string{"word": "hey"})
	assert.True(t, errors.Is(err, verrors.ErrFilterFailed))
}

func TestExecuteRejectsCorruptProgram(t *testing.T) {
	prog := &program.Program{
		Version: program.FormatVersion,
		Nodes:   []program.Node{{Kind: program.KindForeach, Jump: 5}},
	}
	_, err := New(nil).Execute(prog, nil)
	assert.True(t, errors.Is(err, verrors.ErrCacheCorrupt))
}
