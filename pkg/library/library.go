// Package library loads live templates from HCL and YAML files and looks them up by
// abbreviation.
package library

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/multierr"

	"github.com/walteh/livetmpl/pkg/archive"
	"github.com/walteh/livetmpl/pkg/expr"
	"github.com/walteh/livetmpl/pkg/macro"
	"github.com/walteh/livetmpl/pkg/template"
)

// DefaultPattern matches every library file below the root.
const DefaultPattern = "**/*.{hcl,yaml,yml}"

var ErrDuplicateKey = errors.Base("duplicate template key")

// Library is a set of parsed templates keyed by abbreviation. It is safe for concurrent use.
type Library struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func New() *Library {
	return &Library{templates: make(map[string]*template.Template)}
}

// Add registers a parsed template.
func (me *Library) Add(t *template.Template) error {
	if !t.IsParsed() {
		return errors.Errorf("%w: %s", template.ErrNotParsed, t.Key)
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	if prev, ok := me.templates[t.Key]; ok {
		return errors.Errorf("%w: %s in groups %q and %q", ErrDuplicateKey, t.Key, prev.Group, t.Group)
	}
	me.templates[t.Key] = t
	return nil
}

func (me *Library) Lookup(key string) (*template.Template, bool) {
	me.mu.RLock()
	defer me.mu.RUnlock()
	t, ok := me.templates[key]
	return t, ok
}

func (me *Library) Len() int {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return len(me.templates)
}

// Templates returns every template ordered by group, then key.
func (me *Library) Templates() []*template.Template {
	me.mu.RLock()
	out := make([]*template.Template, 0, len(me.templates))
	for _, t := range me.templates {
		out = append(out, t)
	}
	me.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Load reads every file below root matching pattern, DefaultPattern when empty. Broken
// files and templates do not stop the others from loading: the returned library holds
// everything that loaded and the error combines every failure.
func Load(ctx context.Context, fsys afero.Fs, root, pattern string, p *expr.Parser) (*Library, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.Errorf("invalid library pattern %q", pattern)
	}

	var paths []string
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("walking template library %s: %w", root, err)
	}
	sort.Strings(paths)

	lib := New()
	var errs error
	for _, path := range paths {
		errs = multierr.Append(errs, lib.loadFile(ctx, fsys, path, p))
	}
	zerolog.Ctx(ctx).Debug().Str("root", root).Int("files", len(paths)).Int("templates", lib.Len()).Msg("template library loaded")
	return lib, errs
}

// Source says where a library lives. Root is a directory or a .tar.gz bundle of one.
type Source struct {
	Fs      afero.Fs
	Root    string
	Pattern string
}

// Open loads the library of the source with the builtin macros.
func (me *Source) Open(ctx context.Context) (*Library, error) {
	p, err := expr.NewParser(macro.Builtins(), 0)
	if err != nil {
		return nil, err
	}
	if archive.IsTarGz(me.Root) {
		return me.openBundle(ctx, p)
	}
	return Load(ctx, me.Fs, me.Root, me.Pattern, p)
}

func (me *Source) openBundle(ctx context.Context, p *expr.Parser) (*Library, error) {
	data, err := afero.ReadFile(me.Fs, me.Root)
	if err != nil {
		return nil, errors.Errorf("reading library bundle %s: %w", me.Root, err)
	}
	mem := afero.NewMemMapFs()
	n, err := archive.ExtractTarGz(data, mem, "/", archive.Options{})
	if err != nil {
		return nil, errors.Errorf("extracting library bundle %s: %w", me.Root, err)
	}
	zerolog.Ctx(ctx).Debug().Str("bundle", me.Root).Int("files", n).Msg("library bundle extracted")
	return Load(ctx, mem, "/", me.Pattern, p)
}

func (me *Library) loadFile(ctx context.Context, fsys afero.Fs, path string, p *expr.Parser) error {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return errors.Errorf("reading %s: %w", path, err)
	}
	f, err := ParseFile(path, data)
	if err != nil {
		return err
	}

	var errs error
	for _, spec := range f.Templates {
		t := spec.Template(f.Group)
		if err := t.Parse(p); err != nil {
			errs = multierr.Append(errs, errors.Errorf("%s: %w", path, err))
			continue
		}
		if err := me.Add(t); err != nil {
			errs = multierr.Append(errs, errors.Errorf("%s: %w", path, err))
			continue
		}
		zerolog.Ctx(ctx).Trace().Str("file", path).Str("template", t.Key).Msg("template loaded")
	}
	return errs
}
