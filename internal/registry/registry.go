// Package registry owns the one in-memory Q-table per identity.
package registry

import (
	"sort"
	"sync"

	"k8s.io/klog/v2"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/storage"
)

// Registry maps sanitized identities to their tables. Tables are created on first
// access and live until Reset or Close.
type Registry struct {
	mu      sync.Mutex
	backend storage.Backend
	cfg     qtable.Config
	tables  map[string]*qtable.Table
}

// New returns an empty registry whose tables persist through backend.
func New(backend storage.Backend, cfg qtable.Config) *Registry {
	return &Registry{
		backend: backend,
		cfg:     cfg,
		tables:  make(map[string]*qtable.Table),
	}
}

// Get returns the table for identity, loading it from the backend on first use.
func (r *Registry) Get(identity string) *qtable.Table {
	id := storage.SanitizeIdentity(identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[id]; ok {
		return t
	}
	t := qtable.New(id, r.backend, r.cfg)
	r.tables[id] = t
	klog.V(2).InfoS("Q-table opened", "identity", id, "entries", t.Len())
	return t
}

// Reset discards the identity's snapshot and empties its table. Callers holding
// the table see the reset.
func (r *Registry) Reset(identity string) (*qtable.Table, error) {
	t := r.Get(identity)
	if err := t.Reset(); err != nil {
		return nil, err
	}
	klog.InfoS("Q-table cleared", "identity", t.Identity())
	return t, nil
}

// Identities lists the identities with a table in memory.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tables in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

// Close drops every table and closes the backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = make(map[string]*qtable.Table)
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}
