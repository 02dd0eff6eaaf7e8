// Package datafile loads render data from JSON, YAML or TOML files.
package datafile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	verrors "github.com/conneroisu/vista/internal/errors"
)

// Format identifies a data file syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Extensions lists the recognised extensions in lookup order.
var Extensions = []string{".json", ".yaml", ".yml", ".toml"}

// FormatFor returns the format implied by path's extension.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	}
	return "", false
}

// Load reads path and decodes it as a mapping.
func Load(path string) (map[string]interface{}, error) {
	format, ok := FormatFor(path)
	if !ok {
		return nil, verrors.NewIOError(verrors.CodeDataRead, "unsupported data file extension "+filepath.Ext(path), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, verrors.NewIOError(verrors.CodeDataRead, "cannot read data file "+path, err)
	}
	m, err := Decode(data, format)
	if err != nil {
		return nil, verrors.NewIOError(verrors.CodeDataRead, "cannot decode data file "+path, err)
	}
	return m, nil
}

// Find returns the first existing <dir>/<name><ext> for the recognised
// extensions.
func Find(dir, name string) (string, bool) {
	for _, ext := range Extensions {
		p := filepath.Join(dir, filepath.FromSlash(name)+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// LoadFor loads the data file for a template name from dir. A missing file
// yields an empty mapping.
func LoadFor(dir, name string) (map[string]interface{}, error) {
	p, ok := Find(dir, name)
	if !ok {
		return map[string]interface{}{}, nil
	}
	return Load(p)
}

// Decode parses data in the given format. Empty input yields an empty
// mapping; any other top-level value is an error.
func Decode(data []byte, format Format) (map[string]interface{}, error) {
	m := map[string]interface{}{}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}

	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &m)
	case FormatYAML:
		err = yaml.Unmarshal(data, &m)
	case FormatTOML:
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unknown data format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}
