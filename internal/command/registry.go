package command

import (
	"fmt"
	"sort"

	apperrors "tradegate/internal/errors"
)

// Registry is the static name → descriptor mapping. Registration happens
// during startup from a single goroutine; after that the registry is
// read-only and safe for unsynchronized concurrent lookups.
type Registry struct {
	commands map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Descriptor)}
}

// Register adds a command descriptor. No two commands may share a name.
func (r *Registry) Register(desc *Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("command name must not be empty")
	}
	if desc.Handler == nil {
		return fmt.Errorf("command %q has no handler", desc.Name)
	}
	if _, exists := r.commands[desc.Name]; exists {
		return fmt.Errorf("command %q already registered", desc.Name)
	}
	r.commands[desc.Name] = desc
	return nil
}

// MustRegister registers a descriptor and panics on conflict. Startup only.
func (r *Registry) MustRegister(desc *Descriptor) {
	if err := r.Register(desc); err != nil {
		panic(err)
	}
}

// Lookup resolves a command by name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	desc, ok := r.commands[name]
	if !ok {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeUnknownCommand,
			"unknown command", name, nil)
	}
	return desc, nil
}

// Names returns the registered command names, sorted. Used by system_info
// and the CLI to enumerate the auditable operation surface.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.commands)
}
