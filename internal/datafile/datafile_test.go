package datafile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"a.json", FormatJSON, true},
		{"a.yaml", FormatYAML, true},
		{"a.YML", FormatYAML, true},
		{"a.toml", FormatTOML, true},
		{"a.ini", "", false},
		{"a", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := FormatFor(tt.path)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		input  string
	}{
		{"json", FormatJSON, `{"title": "Hello", "tags": ["a", "b"], "user": {"name": "Ada"}}`},
		{"yaml", FormatYAML, "title: Hello\ntags: [a, b]\nuser:\n  name: Ada\n"},
		{"toml", FormatTOML, "title = \"Hello\"\ntags = [\"a\", \"b\"]\n[user]\nname = \"Ada\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.input), tt.format)
			require.NoError(t, err)
			assert.Equal(t, "Hello", m["title"])
			assert.Equal(t, []interface{}{"a", "b"}, m["tags"])
			user, ok := m["user"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "Ada", user["name"])
		})
	}
}

func TestDecodeEmptyAndInvalid(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		m, err := Decode([]byte("  \n"), format)
		require.NoError(t, err)
		assert.Empty(t, m)
	}

	_, err := Decode([]byte(`[1, 2]`), FormatJSON)
	assert.Error(t, err, "top level must be a mapping")

	_, err = Decode([]byte("- a\n- b\n"), FormatYAML)
	assert.Error(t, err)

	_, err = Decode([]byte("{"), "xml")
	assert.Error(t, err)
}

func TestLoadFor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blog"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blog", "post.yml"), []byte("title: Post\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte(`{"title": "JSON wins"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.toml"), []byte(`title = "TOML"`), 0o644))

	m, err := LoadFor(dir, "blog/post")
	require.NoError(t, err)
	assert.Equal(t, "Post", m["title"])

	m, err = LoadFor(dir, "index")
	require.NoError(t, err)
	assert.Equal(t, "JSON wins", m["title"])

	m, err = LoadFor(dir, "missing")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{nope"), 0o644))

	_, err := Load(bad)
	assert.True(t, errors.Is(err, verrors.ErrDataRead))

	_, err = Load(filepath.Join(dir, "data.ini"))
	assert.True(t, errors.Is(err, verrors.ErrDataRead))

	_, err = Load(filepath.Join(dir, "absent.yaml"))
	assert.True(t, errors.Is(err, verrors.ErrDataRead))
}
