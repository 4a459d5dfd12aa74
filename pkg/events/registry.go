package events

import "sync"

// Registry owns a process-wide framework instance with an explicit
// lifecycle. Hosts that want one shared validator per process construct a
// Registry at startup and inject it, rather than reaching for an implicit
// module-level singleton; Reset exists so tests can start clean.
type Registry struct {
	mu        sync.Mutex
	framework *EventValidationFramework
	cfg       *FrameworkConfig
}

// NewRegistry creates an empty registry. The framework is constructed
// lazily on first Get unless Init is called first.
func NewRegistry() *Registry {
	return &Registry{}
}

// Init constructs the shared framework with the given config, replacing
// any existing instance.
func (r *Registry) Init(cfg *FrameworkConfig) *EventValidationFramework {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.framework = NewEventValidationFramework(cfg)
	return r.framework
}

// Get returns the shared framework, constructing it with the last Init
// config (or defaults) when none exists yet.
func (r *Registry) Get() *EventValidationFramework {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.framework == nil {
		r.framework = NewEventValidationFramework(r.cfg)
	}
	return r.framework
}

// Reset drops the shared framework. The next Get constructs a fresh one.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.framework = nil
}
