// Package trigger maps packet names to the handlers that react to them.
package trigger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
)

var (
	// ErrDuplicateTrigger is returned when a name already has a handler.
	ErrDuplicateTrigger = errors.New("duplicate trigger")
	// ErrUnknownPacketType is returned when dispatching a name with no handler.
	ErrUnknownPacketType = errors.New("unknown packet type")
)

// Handler reacts to one inbound packet. sender is the connection ID the
// packet arrived on.
type Handler func(sender int, p *packet.Packet) error

// Registry holds at most one Handler per packet name.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds handler to name.
//
// Precondition: handler must be non-nil.
// Postcondition: Returns ErrDuplicateTrigger if name is already bound; the
// existing binding is left unchanged.
func (r *Registry) Register(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("trigger %q: nil handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTrigger, name)
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister is Register for built-in trigger tables; it panics on error.
func (r *Registry) MustRegister(name string, handler Handler) {
	if err := r.Register(name, handler); err != nil {
		panic(fmt.Sprintf("registering trigger: %v", err))
	}
}

// Dispatch invokes the handler bound to p's name synchronously on the
// calling goroutine and returns its error.
//
// Postcondition: Returns ErrUnknownPacketType if no handler is bound.
func (r *Registry) Dispatch(sender int, p *packet.Packet) error {
	r.mu.RLock()
	h, ok := r.handlers[p.Name()]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPacketType, p.Name())
	}
	return h(sender, p)
}

// Names returns the bound packet names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
