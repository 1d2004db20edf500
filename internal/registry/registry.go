// Package registry resolves module names to message handlers
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ErrModuleNotFound indicates the named module is not registered
var ErrModuleNotFound = fmt.Errorf("module not found")

// Handler is the processing capability a registered module exposes.
// Process receives the serialized message payload and returns the module's
// response. Process may suspend for I/O; callers bound it with the context.
type Handler interface {
	Process(ctx context.Context, content json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, content json.RawMessage) (json.RawMessage, error)

// Process implements Handler
func (f HandlerFunc) Process(ctx context.Context, content json.RawMessage) (json.RawMessage, error) {
	return f(ctx, content)
}

// Registry is a thread-safe name-to-handler map. It is passed by reference
// into the conversation manager; there is no process-wide instance.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty registry
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a module name, replacing any previous binding
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterFunc binds a handler function to a module name
func (r *Registry) RegisterFunc(name string, f HandlerFunc) {
	r.Register(name, f)
}

// RegisterSync binds a synchronous handler. The adaptation to the Handler
// contract happens once here, not at every call site: the function runs on
// its own goroutine so a slow module cannot stall the caller past its
// context deadline.
func (r *Registry) RegisterSync(name string, f func(content json.RawMessage) (json.RawMessage, error)) {
	r.Register(name, HandlerFunc(func(ctx context.Context, content json.RawMessage) (json.RawMessage, error) {
		type result struct {
			out json.RawMessage
			err error
		}
		ch := make(chan result, 1)
		go func() {
			out, err := f(content)
			ch <- result{out, err}
		}()
		select {
		case res := <-ch:
			return res.out, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
}

// Unregister removes a module binding
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Resolve looks up the handler for a module name
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return h, nil
}

// Names returns the registered module names in sorted order
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
