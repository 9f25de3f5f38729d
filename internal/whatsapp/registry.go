package whatsapp

import (
	"sync"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/google/uuid"
)

// Registry owns the live session handle of each channel
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Register adds s under channelID unless a handle is already present.
// It reports whether s was stored.
func (r *Registry) Register(channelID uuid.UUID, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[channelID]; ok {
		return false
	}
	r.sessions[channelID] = s
	return true
}

// Replace stores s under channelID and returns the handle it displaced
func (r *Registry) Replace(channelID uuid.UUID, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[channelID]
	r.sessions[channelID] = s
	return prev
}

// Lookup returns the handle for channelID or ERR_WAPP_NOT_INITIALIZED
func (r *Registry) Lookup(channelID uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[channelID]
	if !ok {
		return nil, domain.NewAppError(domain.ErrCodeWappNotInitialized)
	}
	return s, nil
}

// Remove drops the handle for channelID and returns it
func (r *Registry) Remove(channelID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[channelID]
	delete(r.sessions, channelID)
	return s
}

// All returns a snapshot of the registered handles
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered handles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
