// Package registry provides a concrete ports.FunctionRegistry: a
// whole-map-swap table of named functions, per the design note in
// spec.md §9 ("sys.reload_modules swaps the entire function table
// atomically rather than patching it incrementally").
package registry

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/netresearch/fleetagent/core/ports"
)

// Map is a concurrency-safe, whole-map-swap ports.FunctionRegistry.
type Map struct {
	mu   sync.RWMutex
	fns  map[string]ports.Invocable
	deny map[string]bool
}

// New builds an empty registry.
func New() *Map {
	return &Map{fns: make(map[string]ports.Invocable)}
}

// Lookup resolves a dotted function name, reporting false for anything
// denylisted even if still present in the underlying map.
func (m *Map) Lookup(name string) (ports.Invocable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.deny[name] || m.deny[moduleOf(name)] {
		return nil, false
	}
	inv, ok := m.fns[name]
	return inv, ok
}

// Swap replaces the entire function table, generalizing the teacher's
// module-reload behavior to the "reload the whole table" design note.
func (m *Map) Swap(functions map[string]ports.Invocable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = functions
}

// SetDenylist installs the names or module prefixes (module.* matches any
// function in that module) disable_modules should hide from Lookup,
// generalizing cp.py's disable_modules/whitelist_modules filtering.
func (m *Map) SetDenylist(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deny := make(map[string]bool, len(names))
	for _, n := range names {
		deny[strings.TrimSuffix(n, ".*")] = true
	}
	m.deny = deny
}

// Names returns every currently registered function name, sorted, for
// argument-spec introspection and diagnostics.
func (m *Map) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.fns))
	for name := range m.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func moduleOf(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// Func adapts a plain Go function into a ports.Invocable, so builtin
// modules can be registered without hand-writing the interface three
// times each.
type Func struct {
	Fn     func(args []string, kwargs map[string]any) (any, error)
	Kwargs bool
	RType  reflect.Type
}

func (f Func) Call(args []string, kwargs map[string]any) (any, error) { return f.Fn(args, kwargs) }
func (f Func) AcceptsKwargs() bool                                    { return f.Kwargs }
func (f Func) Type() reflect.Type {
	if f.RType != nil {
		return f.RType
	}
	return reflect.TypeOf(f.Fn)
}

var _ ports.FunctionRegistry = (*Map)(nil)
var _ ports.Invocable = Func{}
