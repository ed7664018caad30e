package bridge

import "sync"

// Registry tracks live sessions by call SID. It is the only mutable
// state shared across calls besides the finalizer's dedup set.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session. It returns false if a session for the call
// is already registered.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.callSid]; ok {
		return false
	}
	r.sessions[s.callSid] = s
	return true
}

// Get returns the session for a call, or nil.
func (r *Registry) Get(callSid string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[callSid]
}

// Remove unregisters the session for a call.
func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callSid)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
