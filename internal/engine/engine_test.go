package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/program"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	views string
	cache string
}

func newFixture(t *testing.T, files map[string]string) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{views: filepath.Join(root, "views"), cache: filepath.Join(root, "views", "cache")}
	for name, body := range files {
		f.write(t, name, body)
	}
	return f
}

func (f fixture) write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(f.views, filepath.FromSlash(name)+".html")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func (f fixture) engine(t *testing.T, opts Options) *Engine {
	t.Helper()
	opts.BaseDir = f.views
	if opts.CacheDir == "" {
		opts.CacheDir = f.cache
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func TestRender(t *testing.T) {
	f := newFixture(t, map[string]string{
		"index": "<h1>{{ title }}</h1>{% foreach items %}<li>{{ loop_value|upper }}</li>{% end %}",
	})
	e := f.engine(t, Options{})

	out, err := e.Render(context.Background(), "index", map[string]interface{}{
		"title": "Fish & Chips",
		"items": []string{"cod", "haddock"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<h1>Fish &amp; Chips</h1><li>COD</li><li>HADDOCK</li>", out)

	_, err = os.Stat(filepath.Join(f.cache, "index.json"))
	assert.NoError(t, err, "artifact is written on first render")
}

func TestRenderNestedName(t *testing.T) {
	f := newFixture(t, map[string]string{"blog/post": "{{ title }}"})
	e := f.engine(t, Options{})

	out, err := e.Render(context.Background(), "blog/post", map[string]string{"title": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = os.Stat(filepath.Join(f.cache, "blog-post.json"))
	assert.NoError(t, err)
}

func TestRenderRecompilesWhenSourceChanges(t *testing.T) {
	f := newFixture(t, map[string]string{"page": "v1 {{ x }}"})
	e := f.engine(t, Options{})
	ctx := context.Background()
	data := map[string]string{"x": "!"}

	out, err := e.Render(ctx, "page", data)
	require.NoError(t, err)
	assert.Equal(t, "v1 !", out)

	src := f.write(t, "page", "v2 {{ x }}")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, future, future))

	out, err = e.Render(ctx, "page", data)
	require.NoError(t, err)
	assert.Equal(t, "v2 !", out)
}

func TestRenderUsesFreshArtifact(t *testing.T) {
	f := newFixture(t, map[string]string{"page": "from source"})
	e := f.engine(t, Options{})
	ctx := context.Background()

	prog, err := e.Compile(ctx, "page")
	require.NoError(t, err)

	// Replace the artifact with a different program that is newer than the
	// source. The engine must use it without recompiling.
	prog.Nodes[0].Text = "from artifact"
	data, err := program.JSONCodec{}.Encode(prog)
	require.NoError(t, err)
	artifact := filepath.Join(f.cache, "page.json")
	require.NoError(t, os.WriteFile(artifact, data, 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(artifact, future, future))

	out, err := e.Render(ctx, "page", nil)
	require.NoError(t, err)
	assert.Equal(t, "from artifact", out)
}

func TestRenderRebuildsCorruptArtifact(t *testing.T) {
	f := newFixture(t, map[string]string{"page": "ok"})
	e := f.engine(t, Options{})

	artifact := filepath.Join(f.cache, "page.json")
	require.NoError(t, os.MkdirAll(f.cache, 0o755))
	require.NoError(t, os.WriteFile(artifact, []byte("not json"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(artifact, future, future))

	out, err := e.Render(context.Background(), "page", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRenderFallsBackToBase(t *testing.T) {
	f := newFixture(t, map[string]string{"base": "base {{ x }}"})
	e := f.engine(t, Options{})

	out, err := e.Render(context.Background(), "missing/page", map[string]int{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "base 1", out)

	_, err = os.Stat(filepath.Join(f.cache, "base.json"))
	assert.NoError(t, err, "cache path follows the resolved name")
	_, err = os.Stat(filepath.Join(f.cache, "missing-page.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenderCustomDefaultTemplate(t *testing.T) {
	f := newFixture(t, map[string]string{"layout": "layout"})
	e := f.engine(t, Options{DefaultTemplate: "layout"})

	out, err := e.Render(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.Equal(t, "layout", out)
}

func TestRenderTemplateNotFound(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "x"})
	e := f.engine(t, Options{})

	out, err := e.Render(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Empty(t, out)
	assert.True(t, errors.Is(err, verrors.ErrTemplateNotFound))
	assert.True(t, verrors.IsConfigError(err))
}

func TestRenderCompileErrorWritesNoArtifact(t *testing.T) {
	f := newFixture(t, map[string]string{"bad": "line one\n{% bogus x %}"})
	e := f.engine(t, Options{})

	_, err := e.Render(context.Background(), "bad", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, verrors.ErrUnknownBlock))

	var ve *verrors.ViewError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "bad", ve.Template)
	assert.Equal(t, "bogus x", ve.Token)
	assert.Equal(t, 2, ve.Line)

	_, err = os.Stat(filepath.Join(f.cache, "bad.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenderCacheWriteError(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "x"})
	blocker := filepath.Join(filepath.Dir(f.views), "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))
	e := f.engine(t, Options{CacheDir: blocker})

	out, err := e.Render(context.Background(), "index", nil)
	require.Error(t, err)
	assert.Empty(t, out, "no fallback to uncached rendering")
	assert.True(t, errors.Is(err, verrors.ErrCacheWrite))
}

func TestRenderMissingField(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "Hello {{ user.name }}"})
	e := f.engine(t, Options{})

	out, err := e.Render(context.Background(), "index", map[string]interface{}{"user": map[string]string{}})
	require.Error(t, err)
	assert.Empty(t, out)
	assert.True(t, errors.Is(err, verrors.ErrMissingField))

	var ve *verrors.ViewError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "index", ve.Template)
}

func TestNewRejectsUnknownCharset(t *testing.T) {
	_, err := New(Options{Charset: "klingon-8"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, verrors.ErrInvalidCharset))
}

func TestRenderToCharset(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "café {{ sym }}"})
	e := f.engine(t, Options{Charset: "ISO-8859-1"})
	assert.Equal(t, "ISO-8859-1", e.Charset())

	var buf bytes.Buffer
	require.NoError(t, e.RenderTo(context.Background(), &buf, "index", map[string]string{"sym": "☃"}))
	assert.Equal(t, []byte("caf\xe9 &#9731;"), buf.Bytes())

	out, err := e.Render(context.Background(), "index", map[string]string{"sym": "☃"})
	require.NoError(t, err)
	assert.Equal(t, "café ☃", out, "Render output stays UTF-8")
}

func TestRenderToUTF8(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "café ☃"})
	e := f.engine(t, Options{})

	var buf bytes.Buffer
	require.NoError(t, e.RenderTo(context.Background(), &buf, "index", nil))
	assert.Equal(t, "café ☃", buf.String())
}

func TestRenderToWritesNothingOnError(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "{{ missing }}"})
	e := f.engine(t, Options{})

	var buf bytes.Buffer
	require.Error(t, e.RenderTo(context.Background(), &buf, "index", nil))
	assert.Zero(t, buf.Len())
}

func TestCompileIsDeterministic(t *testing.T) {
	f := newFixture(t, map[string]string{
		"index": `{% foreach posts %}{% if loop_value.draft == false %}<a>{{ loop_value.title|truncate(10) }}</a>{% end %}{% end %}`,
	})
	e := f.engine(t, Options{})
	ctx := context.Background()
	artifact := filepath.Join(f.cache, "index.json")

	_, err := e.Compile(ctx, "index")
	require.NoError(t, err)
	first, err := os.ReadFile(artifact)
	require.NoError(t, err)

	_, err = e.Clean()
	require.NoError(t, err)
	_, err = e.Compile(ctx, "index")
	require.NoError(t, err)
	second, err := os.ReadFile(artifact)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMsgpackCodec(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "{{ n|comma }}"})
	e := f.engine(t, Options{Codec: program.MsgpackCodec{}})
	ctx := context.Background()

	out, err := e.Render(ctx, "index", map[string]int{"n": 1234567})
	require.NoError(t, err)
	assert.Equal(t, "1,234,567", out)

	_, err = os.Stat(filepath.Join(f.cache, "index.msgpack"))
	require.NoError(t, err)

	// A second engine reads the artifact from disk.
	e2 := f.engine(t, Options{Codec: program.MsgpackCodec{}})
	out, err = e2.Render(ctx, "index", map[string]int{"n": 1000})
	require.NoError(t, err)
	assert.Equal(t, "1,000", out)
}

func TestMemoryCacheHits(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "{{ x }}"})
	e := f.engine(t, Options{})
	ctx := context.Background()

	for range 3 {
		_, err := e.Render(ctx, "index", map[string]int{"x": 1})
		require.NoError(t, err)
	}
	stats := e.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(2), stats.Hits)

	e.Invalidate("index")
	assert.Equal(t, 0, e.Stats().Entries)
}

func TestCompileAll(t *testing.T) {
	f := newFixture(t, map[string]string{
		"base":      "base",
		"index":     "{{ title }}",
		"blog/post": "{% foreach posts %}{% end %}",
		"broken":    "{% foreach posts %}",
	})
	e := f.engine(t, Options{})

	compiled, err := e.CompileAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, compiled)
	assert.True(t, errors.Is(err, verrors.ErrUnclosedBlock))
	assert.Contains(t, err.Error(), "broken")

	for _, name := range []string{"base", "index", "blog-post"} {
		_, err := os.Stat(filepath.Join(f.cache, name+".json"))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(f.cache, "broken.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestClean(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "a", "b": "b"})
	e := f.engine(t, Options{})

	compiled, err := e.CompileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, compiled)

	removed, err := e.Clean()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, e.Stats().Entries)
}

func TestConcurrentRenders(t *testing.T) {
	f := newFixture(t, map[string]string{"index": "{% foreach items %}{{ loop_value }}{% end %}"})
	e := f.engine(t, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Render(context.Background(), "index", map[string][]string{"items": {"a", "b"}})
			if err != nil {
				errs <- err
				return
			}
			if out != "ab" {
				errs <- errors.New("unexpected output " + out)
			}
		}()
	}
	wg.Wait()
	close(errs)

	var msgs []string
	for err := range errs {
		msgs = append(msgs, err.Error())
	}
	assert.Empty(t, msgs, strings.Join(msgs, "\n"))
}
