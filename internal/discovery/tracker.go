package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"omniclip/internal/model"
)

// Tracker keeps the latest record per device and decides when a device
// has gone away.
type Tracker struct {
	mu    sync.RWMutex
	peers map[uuid.UUID]model.Peer
	self  uuid.UUID
	stale time.Duration
	now   func() time.Time
}

func NewTracker(self uuid.UUID, stale time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		peers: make(map[uuid.UUID]model.Peer),
		self:  self,
		stale: stale,
		now:   now,
	}
}

// Seen records p and reports whether it is new or its endpoint changed.
// Our own announcements are ignored.
func (t *Tracker) Seen(p model.Peer) bool {
	if p.DeviceID == t.self || p.DeviceID == uuid.Nil {
		return false
	}
	p.LastSeen = t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.peers[p.DeviceID]
	t.peers[p.DeviceID] = p
	return !ok || old.Host != p.Host || old.Port != p.Port || old.Name != p.Name
}

func (t *Tracker) Forget(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		return false
	}
	delete(t.peers, id)
	return true
}

// Sweep removes peers not seen within the stale window and returns their ids.
func (t *Tracker) Sweep() []uuid.UUID {
	cutoff := t.now().Add(-t.stale)

	t.mu.Lock()
	defer t.mu.Unlock()
	var lost []uuid.UUID
	for id, p := range t.peers {
		if p.LastSeen.Before(cutoff) {
			delete(t.peers, id)
			lost = append(lost, id)
		}
	}
	return lost
}

func (t *Tracker) Get(id uuid.UUID) (model.Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

func (t *Tracker) Peers() []model.Peer {
	t.mu.RLock()
	result := make([]model.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		result = append(result, p)
	}
	t.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
