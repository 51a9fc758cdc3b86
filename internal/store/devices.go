package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"omniclip/internal/model"
)

// Devices is the in-memory table of paired devices, shared by the sync
// server and the service. Values are copied in and out.
type Devices struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]model.PairedDevice
	now     func() time.Time
}

func NewDevices() *Devices {
	return NewDevicesWithNow(time.Now)
}

func NewDevicesWithNow(now func() time.Time) *Devices {
	return &Devices{
		devices: make(map[uuid.UUID]model.PairedDevice),
		now:     now,
	}
}

// Add inserts or replaces a device. It reports whether an entry with the
// same id was replaced.
func (s *Devices) Add(d model.PairedDevice) bool {
	now := s.now()
	if d.PairedAt.IsZero() {
		d.PairedAt = now
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.devices[d.ID]
	s.devices[d.ID] = d
	return existed
}

func (s *Devices) Get(id uuid.UUID) (model.PairedDevice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	return d, ok
}

func (s *Devices) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return false
	}
	delete(s.devices, id)
	return true
}

func (s *Devices) Touch(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return false
	}
	d.LastSeen = s.now()
	s.devices[id] = d
	return true
}

func (s *Devices) SetAddr(id uuid.UUID, addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return false
	}
	d.Addr = addr
	s.devices[id] = d
	return true
}

// List returns the devices ordered by pairing time, oldest first.
func (s *Devices) List() []model.PairedDevice {
	s.mu.RLock()
	result := make([]model.PairedDevice, 0, len(s.devices))
	for _, d := range s.devices {
		result = append(result, d)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].PairedAt.Equal(result[j].PairedAt) {
			return result[i].PairedAt.Before(result[j].PairedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}

func (s *Devices) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
