package component

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Library is the set of component definitions a session can build models
// from. Each fit session receives its own Library.
type Library struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewLibrary() *Library {
	return &Library{defs: make(map[string]Definition)}
}

// BuiltinLibrary returns a fresh library holding the built-in components.
func BuiltinLibrary() *Library {
	lib := NewLibrary()
	for _, def := range builtins() {
		lib.MustRegister(def)
	}
	return lib
}

func (l *Library) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	name := strings.ToLower(def.Name)
	def.Name = name

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.defs[name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentExists, name)
	}
	l.defs[name] = def
	return nil
}

func (l *Library) MustRegister(def Definition) {
	if err := l.Register(def); err != nil {
		panic(err)
	}
}

// Lookup resolves an exact name or a unique abbreviation of at least two
// characters.
func (l *Library) Lookup(name string) (Definition, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	l.mu.RLock()
	defer l.mu.RUnlock()

	if def, ok := l.defs[name]; ok {
		return def, nil
	}
	if len(name) >= 2 {
		var matches []string
		for candidate := range l.defs {
			if strings.HasPrefix(candidate, name) {
				matches = append(matches, candidate)
			}
		}
		switch len(matches) {
		case 1:
			return l.defs[matches[0]], nil
		case 0:
		default:
			sort.Strings(matches)
			return Definition{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousComponent, name, strings.Join(matches, ", "))
		}
	}
	return Definition{}, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
}

func (l *Library) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.defs))
	for name := range l.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
