package orchestrator

import "sync"

// Registry holds one Orchestrator per conversation for as long as the
// conversation exists. Callers cancel in-flight work before Remove.
type Registry struct {
	deps Deps
	opts Options

	mu            sync.RWMutex
	orchestrators map[string]*Orchestrator
}

func NewRegistry(deps Deps, opts Options) *Registry {
	return &Registry{
		deps:          deps,
		opts:          opts,
		orchestrators: make(map[string]*Orchestrator),
	}
}

func (r *Registry) GetOrCreate(conversationID string) *Orchestrator {
	r.mu.RLock()
	o, ok := r.orchestrators[conversationID]
	r.mu.RUnlock()
	if ok {
		return o
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orchestrators[conversationID]; ok {
		return o
	}
	o = New(conversationID, r.deps, r.opts)
	r.orchestrators[conversationID] = o
	r.deps.Metrics.SetOrchestrators(len(r.orchestrators))
	return o
}

func (r *Registry) Remove(conversationID string) {
	r.mu.Lock()
	delete(r.orchestrators, conversationID)
	r.deps.Metrics.SetOrchestrators(len(r.orchestrators))
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orchestrators)
}
