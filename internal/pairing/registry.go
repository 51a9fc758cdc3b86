package pairing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"omniclip/internal/errs"
)

var (
	ErrNoActiveSession = fmt.Errorf("%w: no active pairing session", errs.ErrNotPaired)
	ErrSessionMismatch = fmt.Errorf("%w: pairing session mismatch", errs.ErrInvalidMessage)
)

type Policy int

const (
	// PolicySingle keeps only the newest offer; starting one discards the rest.
	PolicySingle Policy = iota
	// PolicyConcurrent keeps every unexpired offer.
	PolicyConcurrent
)

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "single":
		return PolicySingle, nil
	case "concurrent":
		return PolicyConcurrent, nil
	}
	return 0, fmt.Errorf("unknown pairing policy %q", raw)
}

func (p Policy) String() string {
	if p == PolicyConcurrent {
		return "concurrent"
	}
	return "single"
}

type entry struct {
	session   *Session
	expiresAt time.Time
}

// Registry holds the pairing sessions that are waiting for a PairRequest.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]entry
	ttl      time.Duration
	policy   Policy
	now      func() time.Time
}

func NewRegistry(ttl time.Duration, policy Policy) *Registry {
	return NewRegistryWithNow(ttl, policy, time.Now)
}

func NewRegistryWithNow(ttl time.Duration, policy Policy, now func() time.Time) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]entry),
		ttl:      ttl,
		policy:   policy,
		now:      now,
	}
}

// Start opens a new session and returns it with its expiry. A zero expiry
// means the session never expires.
func (r *Registry) Start() (*Session, time.Time, error) {
	s, err := newSessionAt(r.now())
	if err != nil {
		return nil, time.Time{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == PolicySingle {
		clear(r.sessions)
	}
	var expiresAt time.Time
	if r.ttl > 0 {
		expiresAt = s.CreatedAt.Add(r.ttl)
	}
	r.sessions[s.ID] = entry{session: s, expiresAt: expiresAt}
	return s, expiresAt, nil
}

// Take removes and returns the session with the given id. When id does not
// name a live session nothing is removed.
func (r *Registry) Take(id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()
	if len(r.sessions) == 0 {
		return nil, ErrNoActiveSession
	}
	e, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionMismatch, id)
	}
	delete(r.sessions, id)
	return e.session, nil
}

// Restore puts back a session that Take handed out but that did not
// complete. It is a no-op when the session has expired or was completed,
// and under PolicySingle when a newer offer has replaced it.
func (r *Registry) Restore(s *Session) bool {
	if !s.Open() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()
	var expiresAt time.Time
	if r.ttl > 0 {
		expiresAt = s.CreatedAt.Add(r.ttl)
		if !r.now().Before(expiresAt) {
			return false
		}
	}
	if r.policy == PolicySingle {
		for _, e := range r.sessions {
			if e.session.CreatedAt.After(s.CreatedAt) {
				return false
			}
		}
		clear(r.sessions)
	}
	r.sessions[s.ID] = entry{session: s, expiresAt: expiresAt}
	return true
}

func (r *Registry) Get(id uuid.UUID) (*Session, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()
	e, ok := r.sessions[id]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.session, e.expiresAt, true
}

// Current returns the newest live session.
func (r *Registry) Current() (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()
	var newest *Session
	for _, e := range r.sessions {
		if newest == nil || e.session.CreatedAt.After(newest.CreatedAt) {
			newest = e.session
		}
	}
	return newest, newest != nil
}

func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *Registry) IDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (r *Registry) Policy() Policy { return r.policy }

// evictLocked drops expired sessions. Must be called with mu held.
func (r *Registry) evictLocked() {
	now := r.now()
	for id, e := range r.sessions {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(r.sessions, id)
		}
	}
}
