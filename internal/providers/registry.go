package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthTimeout bounds a single provider health check.
const HealthTimeout = 5 * time.Second

// HealthStatus is the outcome of probing one provider.
type HealthStatus struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Enabled   bool          `json:"enabled"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latencyMs"`
	Error     string        `json:"error,omitempty"`
}

// Registry keeps providers in registration order, which is also sync order.
type Registry struct {
	mu      sync.RWMutex
	order   []Provider
	enabled map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{enabled: make(map[string]bool)}
}

// Register adds p. Registering an id twice replaces the earlier provider in place.
func (r *Registry) Register(p Provider, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.order {
		if existing.ID() == p.ID() {
			r.order[i] = p
			r.enabled[p.ID()] = enabled
			return
		}
	}
	r.order = append(r.order, p)
	r.enabled[p.ID()] = enabled
}

// Get returns the provider with id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.order {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// All returns every registered provider in order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.order...)
}

// Enabled returns the enabled providers in order.
func (r *Registry) Enabled() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, p := range r.order {
		if r.enabled[p.ID()] {
			out = append(out, p)
		}
	}
	return out
}

// EnabledIDs returns the ids of Enabled().
func (r *Registry) EnabledIDs() []string {
	var ids []string
	for _, p := range r.Enabled() {
		ids = append(ids, p.ID())
	}
	return ids
}

// IsEnabled reports whether id is registered and enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[id]
}

// SetEnabled toggles a registered provider.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.enabled[id]; !ok {
		return false
	}
	r.enabled[id] = enabled
	return true
}

// HealthCheckAll checks every registered provider concurrently.
func (r *Registry) HealthCheckAll(ctx context.Context) []HealthStatus {
	all := r.All()
	out := make([]HealthStatus, len(all))

	var g errgroup.Group
	for i, p := range all {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, HealthTimeout)
			defer cancel()

			start := time.Now()
			err := p.HealthCheck(pctx)
			st := HealthStatus{
				ID:      p.ID(),
				Name:    p.Name(),
				Enabled: r.IsEnabled(p.ID()),
				OK:      err == nil,
				Latency: time.Since(start),
			}
			st.LatencyMS = st.Latency.Milliseconds()
			if err != nil {
				st.Error = err.Error()
			}
			out[i] = st
			return nil
		})
	}
	_ = g.Wait()
	return out
}
