package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
)

// Registry maps session ids to live sessions and evicts conversations that
// have been idle past their TTL. Lookups of unknown ids mint a fresh session
// so reconnecting clients can resume by id.
type Registry struct {
	sessionCfg Config
	ttl        time.Duration
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry starts a registry with a background sweeper. A zero ttl
// disables eviction.
func NewRegistry(sessionCfg Config, ttl time.Duration) *Registry {
	r := &Registry{
		sessionCfg: sessionCfg,
		ttl:        ttl,
		logger:     applog.WithComponent("registry"),
		sessions:   make(map[string]*Session),
		stopCh:     make(chan struct{}),
	}
	if ttl > 0 {
		go r.sweepLoop()
	}
	return r
}

// GetOrCreate returns the session for id, creating it if absent. An empty id
// mints a new one.
func (r *Registry) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		return sess
	}
	sess := NewSession(id, r.sessionCfg)
	r.sessions[id] = sess
	r.logger.Info().Str("session_id", id).Int("sessions", len(r.sessions)).Msg("session created")
	return sess
}

// Lookup returns the session for id without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Clear wipes and removes the session for id. Unknown ids are a no-op.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		sess.Clear()
		r.logger.Info().Str("session_id", id).Msg("session cleared")
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts detached sessions idle past the TTL and reports how many were
// removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, sess := range r.sessions {
		if sess.Running() {
			continue
		}
		if sess.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().Int("evicted", removed).Int("sessions", len(r.sessions)).Msg("swept idle sessions")
	}
	return removed
}

func (r *Registry) sweepLoop() {
	interval := r.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close stops the sweeper. Live sessions are left to their connections.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
