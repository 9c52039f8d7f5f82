// Package macro provides the functions callable from template expressions.
package macro

import (
	"sort"
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/expr"
)

var ErrDuplicateMacro = errors.Base("macro already registered")

// Registry is a lookup table of macros keyed by name. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	macros map[string]expr.Macro
}

var _ expr.MacroResolver = (*Registry)(nil)

func NewRegistry(macros ...expr.Macro) (*Registry, error) {
	r := &Registry{macros: make(map[string]expr.Macro, len(macros))}
	for _, m := range macros {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (me *Registry) Register(m expr.Macro) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if _, ok := me.macros[m.Name()]; ok {
		return errors.Errorf("%w: %s", ErrDuplicateMacro, m.Name())
	}
	me.macros[m.Name()] = m
	return nil
}

func (me *Registry) Lookup(name string) (expr.Macro, bool) {
	me.mu.RLock()
	defer me.mu.RUnlock()
	m, ok := me.macros[name]
	return m, ok
}

// Names returns the registered macro names in sorted order.
func (me *Registry) Names() []string {
	me.mu.RLock()
	defer me.mu.RUnlock()
	names := make([]string, 0, len(me.macros))
	for n := range me.macros {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtins returns a fresh registry holding every builtin macro.
func Builtins() *Registry {
	r, err := NewRegistry(
		Capitalize,
		Decapitalize,
		Lowercase,
		Uppercase,
		CamelCase,
		SnakeCase,
		Concat,
		SubstringBefore,
		RegularExpression,
		Enum{},
		SuggestIndexName{},
		LineNumber{},
		FileName{},
		FileNameWithoutExtension{},
		&Date{},
		NewCELScript(0),
	)
	if err != nil {
		panic(err)
	}
	return r
}
