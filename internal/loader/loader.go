// Package loader maps template names to source and artifact files and
// decides when an artifact has to be rebuilt.
package loader

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/natefinch/atomic"

	verrors "github.com/conneroisu/vista/internal/errors"
)

// Defaults used when Options leaves a field empty.
const (
	DefaultBaseDir     = "views"
	DefaultCacheDir    = "views/cache"
	DefaultExtension   = ".html"
	DefaultName        = "base"
	DefaultArtifactExt = "json"
)

// Options configures a Loader.
type Options struct {
	BaseDir     string
	CacheDir    string
	Extension   string
	DefaultName string
	// ArtifactExt is the file extension of compiled artifacts, without the
	// leading dot. It comes from the codec in use.
	ArtifactExt string
}

// Paths is the result of resolving a template name.
type Paths struct {
	// Requested is the name the caller asked for.
	Requested string
	// Name is the template that will actually be used. It differs from
	// Requested when the default template was substituted.
	Name     string
	Source   string
	Cache    string
	Fallback bool
}

// Loader resolves template names against a views directory.
type Loader struct {
	opts Options
}

// New creates a loader, filling unset options with defaults.
func New(opts Options) *Loader {
	if opts.BaseDir == "" {
		opts.BaseDir = DefaultBaseDir
	}
	if opts.CacheDir == "" {
		opts.CacheDir = DefaultCacheDir
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if !strings.HasPrefix(opts.Extension, ".") {
		opts.Extension = "." + opts.Extension
	}
	if opts.DefaultName == "" {
		opts.DefaultName = DefaultName
	}
	opts.ArtifactExt = strings.TrimPrefix(opts.ArtifactExt, ".")
	if opts.ArtifactExt == "" {
		opts.ArtifactExt = DefaultArtifactExt
	}
	return &Loader{opts: opts}
}

// Options returns the effective options.
func (l *Loader) Options() Options { return l.opts }

// ValidateName rejects names that could escape the views directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return verrors.NewValidationError(verrors.CodeInvalidName, "template name is empty")
	case strings.ContainsAny(name, "\\\x00"):
		return verrors.NewValidationError(verrors.CodeInvalidName, "template name contains an illegal character").WithTemplate(name)
	case strings.HasPrefix(name, "/") || filepath.IsAbs(name):
		return verrors.NewValidationError(verrors.CodeInvalidName, "template name must be relative").WithTemplate(name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return verrors.NewValidationError(verrors.CodeInvalidName, "template name has an invalid path segment").WithTemplate(name)
		}
	}
	return nil
}

// SourcePathFor returns the source file for name without checking it exists.
func (l *Loader) SourcePathFor(name string) string {
	return filepath.Join(l.opts.BaseDir, filepath.FromSlash(name)+l.opts.Extension)
}

// CachePathFor returns the artifact path for name. Nested names are
// flattened, so "blog/post" is stored as "blog-post.<ext>".
func (l *Loader) CachePathFor(name string) string {
	return filepath.Join(l.opts.CacheDir, strings.ReplaceAll(name, "/", "-")+"."+l.opts.ArtifactExt)
}

// Resolve finds the source for name, substituting the default template when
// name has no source file. The cache path follows the resolved name.
func (l *Loader) Resolve(name string) (Paths, error) {
	if err := ValidateName(name); err != nil {
		return Paths{}, err
	}

	p := Paths{Requested: name, Name: name, Source: l.SourcePathFor(name)}
	ok, err := isFile(p.Source)
	if err != nil {
		return Paths{}, verrors.NewIOError(verrors.CodeSourceRead, "cannot stat template source", err).WithTemplate(name)
	}
	if !ok {
		p.Name = l.opts.DefaultName
		p.Source = l.SourcePathFor(p.Name)
		p.Fallback = true
		ok, err = isFile(p.Source)
		if err != nil {
			return Paths{}, verrors.NewIOError(verrors.CodeSourceRead, "cannot stat template source", err).WithTemplate(p.Name)
		}
		if !ok {
			return Paths{}, verrors.NewConfigError(verrors.CodeTemplateNotFound,
				"template not found and default template "+l.opts.DefaultName+" is missing").WithTemplate(name)
		}
	}

	p.Cache = l.CachePathFor(p.Name)
	return p, nil
}

// IsStale reports whether the artifact must be rebuilt: it is missing, or
// the source was modified after it was written.
func (l *Loader) IsStale(p Paths) (bool, error) {
	art, err := os.Stat(p.Cache)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return true, nil
	}
	if err != nil {
		return false, verrors.NewCacheError(verrors.CodeCacheRead, "cannot stat artifact", err).WithTemplate(p.Name)
	}

	src, err := os.Stat(p.Source)
	if err != nil {
		return false, verrors.NewIOError(verrors.CodeSourceRead, "cannot stat template source", err).WithTemplate(p.Name)
	}

	return src.ModTime().After(art.ModTime()), nil
}

// Store writes an artifact, creating the cache directory when needed. The
// file is replaced atomically, so readers never observe a partial artifact.
func (l *Loader) Store(cachePath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return verrors.NewCacheError(verrors.CodeCacheWrite, "cannot create cache directory", err)
	}
	if err := atomic.WriteFile(cachePath, bytes.NewReader(data)); err != nil {
		return verrors.NewCacheError(verrors.CodeCacheWrite, "cannot write artifact "+cachePath, err)
	}
	return nil
}

// ReadSource returns the template source text.
func (l *Loader) ReadSource(p Paths) ([]byte, error) {
	data, err := os.ReadFile(p.Source)
	if err != nil {
		return nil, verrors.NewIOError(verrors.CodeSourceRead, "cannot read template source", err).WithTemplate(p.Name)
	}
	return data, nil
}

// ReadArtifact returns the artifact bytes and the modification time they
// were read at.
func (l *Loader) ReadArtifact(p Paths) ([]byte, time.Time, error) {
	f, err := os.Open(p.Cache)
	if err != nil {
		return nil, time.Time{}, verrors.NewCacheError(verrors.CodeCacheRead, "cannot open artifact", err).WithTemplate(p.Name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, verrors.NewCacheError(verrors.CodeCacheRead, "cannot stat artifact", err).WithTemplate(p.Name)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, time.Time{}, verrors.NewCacheError(verrors.CodeCacheRead, "cannot read artifact", err).WithTemplate(p.Name)
	}
	return buf.Bytes(), info.ModTime(), nil
}

// ArtifactModTime returns the artifact's modification time.
func (l *Loader) ArtifactModTime(p Paths) (time.Time, error) {
	info, err := os.Stat(p.Cache)
	if err != nil {
		return time.Time{}, verrors.NewCacheError(verrors.CodeCacheRead, "cannot stat artifact", err).WithTemplate(p.Name)
	}
	return info.ModTime(), nil
}

// Names lists every template under the base directory, sorted, using '/'
// as separator. The cache directory is skipped.
func (l *Loader) Names() ([]string, error) {
	cacheDir, _ := filepath.Abs(l.opts.CacheDir)
	var names []string

	err := filepath.WalkDir(l.opts.BaseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(p); abs == cacheDir {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) != l.opts.Extension {
			return nil
		}
		rel, err := filepath.Rel(l.opts.BaseDir, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), l.opts.Extension)
		if ValidateName(name) == nil {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, verrors.NewIOError(verrors.CodeSourceRead, "cannot list templates in "+l.opts.BaseDir, err)
	}

	sort.Strings(names)
	return names, nil
}

// NameFor maps a file path back to a template name. It reports false for
// files outside the base directory or with another extension.
func (l *Loader) NameFor(file string) (string, bool) {
	base, err := filepath.Abs(l.opts.BaseDir)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(file)
	if err != nil || filepath.Ext(abs) != l.opts.Extension {
		return "", false
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", false
	}
	name := strings.TrimSuffix(filepath.ToSlash(rel), l.opts.Extension)
	if ValidateName(name) != nil {
		return "", false
	}
	return path.Clean(name), true
}

// Clean removes every artifact in the cache directory and returns how many
// were deleted. A missing cache directory is not an error.
func (l *Loader) Clean() (int, error) {
	entries, err := os.ReadDir(l.opts.CacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, verrors.NewCacheError(verrors.CodeCacheRead, "cannot list cache directory", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != "."+l.opts.ArtifactExt {
			continue
		}
		if err := os.Remove(filepath.Join(l.opts.CacheDir, e.Name())); err != nil {
			return removed, verrors.NewCacheError(verrors.CodeCacheWrite, "cannot remove artifact "+e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func isFile(p string) (bool, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}
