package supervisor

import "sync"

// Registry names the supervisors of the running subsystems so /status can
// report them. Subsystems come and go on restart, hence the lookup func.
type Registry struct {
	mu sync.RWMutex
	m  map[string]func() *Supervisor
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]func() *Supervisor{}}
}

// Set registers a lookup under name; a nil lookup deletes the entry.
func (r *Registry) Set(name string, get func() *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if get == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = get
}

// Snapshots returns the current snapshot of every live supervisor.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.m))
	for name, get := range r.m {
		if s := get(); s != nil {
			out[name] = s.Snapshot()
		}
	}
	return out
}
