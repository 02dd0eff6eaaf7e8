// Package settings persists per-application, per-environment settings as
// nested YAML documents named app.<app>.<env>.yaml.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	verrors "github.com/conneroisu/vista/internal/errors"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store holds one settings document. Keys are dotted paths such as
// "User.login_methods".
type Store struct {
	path  string
	data  map[string]interface{}
	mutex sync.RWMutex
}

// PathFor returns the settings file for app in env.
func PathFor(dir, app, env string) string {
	return filepath.Join(dir, fmt.Sprintf("app.%s.%s.yaml", app, env))
}

// Open loads the settings for app in env from dir. A missing file yields an
// empty store.
func Open(dir, app, env string) (*Store, error) {
	for _, part := range []string{app, env} {
		if !namePattern.MatchString(part) {
			return nil, verrors.NewValidationError(verrors.CodeInvalidConfig,
				fmt.Sprintf("invalid settings name %q", part))
		}
	}

	s := &Store{path: PathFor(dir, app, env), data: map[string]interface{}{}}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, verrors.NewIOError(verrors.CodeDataRead, "cannot read settings", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return s, nil
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, verrors.NewIOError(verrors.CodeDataRead, "cannot parse settings "+s.path, err)
	}
	if s.data == nil {
		s.data = map[string]interface{}{}
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the value at key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var cur interface{} = s.data
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at key, creating intermediate sections.
func (s *Store) Set(key string, value interface{}) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	m := s.data
	for i, part := range parts[:len(parts)-1] {
		next, exists := m[part]
		if !exists {
			child := map[string]interface{}{}
			m[part] = child
			m = child
			continue
		}
		child, ok := asMap(next)
		if !ok {
			return verrors.NewValidationError(verrors.CodeInvalidConfig,
				fmt.Sprintf("%s is not a section", strings.Join(parts[:i+1], ".")))
		}
		m[part] = child
		m = child
	}
	m[parts[len(parts)-1]] = value
	return nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	parts, err := splitKey(key)
	if err != nil {
		return false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	m := s.data
	for _, part := range parts[:len(parts)-1] {
		child, ok := asMap(m[part])
		if !ok {
			return false
		}
		m[part] = child
		m = child
	}
	last := parts[len(parts)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}

// Keys returns the dotted path of every leaf value, sorted.
func (s *Store) Keys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var keys []string
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			full := k
			if prefix != "" {
				full = prefix + "." + k
			}
			if child, ok := asMap(v); ok && len(child) > 0 {
				walk(full, child)
				continue
			}
			keys = append(keys, full)
		}
	}
	walk("", s.data)
	sort.Strings(keys)
	return keys
}

// Save writes the document atomically.
func (s *Store) Save() error {
	s.mutex.RLock()
	out, err := yaml.Marshal(s.data)
	s.mutex.RUnlock()
	if err != nil {
		return verrors.NewIOError(verrors.CodeSettingsSave, "unable to encode settings", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return verrors.NewIOError(verrors.CodeSettingsSave,
			"unable to save changes, check your folder permissions and try again", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(out)); err != nil {
		return verrors.NewIOError(verrors.CodeSettingsSave,
			"unable to save changes, check your folder permissions and try again", err)
	}
	return nil
}

func splitKey(key string) ([]string, error) {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, verrors.NewValidationError(verrors.CodeInvalidConfig, fmt.Sprintf("invalid settings key %q", key))
		}
	}
	return parts, nil
}

// asMap accepts both map shapes yaml.v3 can produce.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}
