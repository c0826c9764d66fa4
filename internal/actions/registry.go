package actions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	ErrSealed        = errors.New("actions: registry is sealed")
	ErrDuplicate     = errors.New("actions: action already registered")
	ErrUnknownAction = errors.New("actions: unknown action")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Args are the named string arguments passed to an action.
type Args map[string]string

// Func is the contract every registered action implements.
type Func func(ctx context.Context, args Args) (string, error)

// Action is a registration entry.
type Action struct {
	Description string
	Params      []string
	Func        Func
}

// Definition is the public view of a registered action.
type Definition struct {
	Name        string
	Description string
	Params      []string
}

// Registry maps action names to functions. Entries are added at process
// start; after Seal the registry is read-only.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	sealed  bool
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register validates and adds an action under name.
func (r *Registry) Register(name string, a Action) error {
	name = strings.TrimSpace(name)
	if !namePattern.MatchString(name) {
		return fmt.Errorf("actions: invalid action name %q", name)
	}
	if a.Func == nil {
		return fmt.Errorf("actions: action %q has nil func", name)
	}
	seen := make(map[string]struct{}, len(a.Params))
	for _, p := range a.Params {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("actions: action %q has an empty parameter name", name)
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("actions: action %q declares parameter %q twice", name, p)
		}
		seen[p] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrSealed, name)
	}
	if _, ok := r.actions[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	a.Params = append([]string(nil), a.Params...)
	r.actions[name] = a
	return nil
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Invoke calls the named action. Declared parameters missing from args are
// passed as empty strings; undeclared arguments are dropped.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (string, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	in := make(Args, len(a.Params))
	for _, p := range a.Params {
		in[p] = args[p]
	}
	out, err := a.Func(ctx, in)
	if err != nil {
		return "", fmt.Errorf("actions: %s: %w", name, err)
	}
	return out, nil
}

// Definitions returns every registered action sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.actions))
	for name, a := range r.actions {
		defs = append(defs, Definition{
			Name:        name,
			Description: a.Description,
			Params:      append([]string(nil), a.Params...),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
