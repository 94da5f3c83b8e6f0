// Package registry holds the handlers and worker settings of each queue.
package registry

import (
	"sort"
	"sync"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/errors"
)

// Registry is a thread-safe handler registry keyed by queue name
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]core.Registration
}

var _ core.Registry = (*Registry)(nil)

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{
		registrations: make(map[string]core.Registration),
	}
}

// Register adds a handler for a queue. Registering a queue again replaces
// its handler and options.
func (r *Registry) Register(queue string, handler core.HandlerFunc, options ...core.WorkerOption) error {
	if queue == "" {
		return errors.ErrEmptyQueueName
	}

	if handler == nil {
		return errors.ErrNilHandler
	}

	opts := core.DefaultWorkerOptions()
	for _, opt := range options {
		opt(&opts)
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.registrations[queue] = core.Registration{
		Queue:   queue,
		Handler: handler,
		Options: opts,
	}
	return nil
}

// Get retrieves the registration of a queue
func (r *Registry) Get(queue string) (core.Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.registrations[queue]
	return reg, ok
}

// List returns all registered queues in name order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queues := make([]string, 0, len(r.registrations))
	for queue := range r.registrations {
		queues = append(queues, queue)
	}
	sort.Strings(queues)

	return queues
}

// Remove unregisters a queue
func (r *Registry) Remove(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.registrations, queue)
}

// Clear removes all registrations
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registrations = make(map[string]core.Registration)
}
