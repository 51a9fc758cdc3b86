// Package discovery announces this device on the LAN over mDNS/DNS-SD and
// keeps track of other omniclip devices.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"omniclip/internal/errs"
	"omniclip/internal/logging"
	"omniclip/internal/metrics"
	"omniclip/internal/model"
	"omniclip/internal/protocol"
)

const (
	EventBuffer        = 32
	DefaultStaleAfter  = 60 * time.Second
	DefaultSweepEvery  = 15 * time.Second
	DefaultBrowseEvery = 10 * time.Second
)

type EventKind int

const (
	PeerFound EventKind = iota
	PeerLost
)

type Event struct {
	Kind     EventKind
	Peer     model.Peer
	DeviceID uuid.UUID
}

// Announcement is what we publish about ourselves.
type Announcement struct {
	DeviceID    uuid.UUID
	Name        string
	Fingerprint string
	Port        int
}

type Discovery interface {
	Register(a Announcement) error
	Browse(ctx context.Context) (<-chan Event, error)
	Peers() []model.Peer
	Peer(id uuid.UUID) (model.Peer, bool)
	Close() error
}

// TXT builds the TXT record for a.
func TXT(a Announcement) []string {
	return []string{
		"id=" + a.DeviceID.String(),
		"fp=" + a.Fingerprint,
		"v=" + strconv.Itoa(protocol.ProtocolVersion),
	}
}

// ParseTXT reads the device id, fingerprint and protocol version from a TXT
// record. Unknown keys are ignored.
func ParseTXT(txt []string) (uuid.UUID, string, int, error) {
	var (
		id      uuid.UUID
		fp      string
		version int
		haveID  bool
	)
	for _, kv := range txt {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "id":
			parsed, err := uuid.Parse(value)
			if err != nil {
				return uuid.Nil, "", 0, fmt.Errorf("%w: bad id in TXT record: %v", errs.ErrDiscovery, err)
			}
			id, haveID = parsed, true
		case "fp":
			fp = value
		case "v":
			v, err := strconv.Atoi(value)
			if err != nil {
				return uuid.Nil, "", 0, fmt.Errorf("%w: bad version in TXT record: %v", errs.ErrDiscovery, err)
			}
			version = v
		}
	}
	if !haveID {
		return uuid.Nil, "", 0, fmt.Errorf("%w: TXT record has no id", errs.ErrDiscovery)
	}
	return id, fp, version, nil
}

type Options struct {
	Self        uuid.UUID
	Logger      *slog.Logger
	StaleAfter  time.Duration
	SweepEvery  time.Duration
	BrowseEvery time.Duration
}

// MDNS implements Discovery with multicast DNS.
type MDNS struct {
	opts    Options
	log     *slog.Logger
	tracker *Tracker

	mu     sync.Mutex
	server *zeroconf.Server
}

func NewMDNS(opts Options) *MDNS {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = DefaultSweepEvery
	}
	if opts.BrowseEvery <= 0 {
		opts.BrowseEvery = DefaultBrowseEvery
	}
	return &MDNS{
		opts:    opts,
		log:     opts.Logger.With("component", "discovery"),
		tracker: NewTracker(opts.Self, opts.StaleAfter, time.Now),
	}
}

func (m *MDNS) Register(a Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
	instance := fmt.Sprintf("%s-%s", a.Name, a.DeviceID.String()[:8])
	server, err := zeroconf.Register(instance, protocol.ServiceType, protocol.ServiceDomain, a.Port, TXT(a), nil)
	if err != nil {
		return fmt.Errorf("%w: register: %v", errs.ErrDiscovery, err)
	}
	m.server = server
	m.log.Info("registered mDNS service", "instance", instance, "port", a.Port)
	return nil
}

// Browse reports peers until ctx is done. Each browse window re-collects
// every visible service, which is what keeps LastSeen fresh.
func (m *MDNS) Browse(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, EventBuffer)
	go func() {
		defer close(out)
		sweep := time.NewTicker(m.opts.SweepEvery)
		defer sweep.Stop()

		for {
			entries := make(chan *zeroconf.ServiceEntry, EventBuffer)
			window, cancel := context.WithTimeout(ctx, m.opts.BrowseEvery)
			if err := m.browseOnce(window, entries); err != nil {
				m.log.Warn("browse failed", "err", err)
			}
			m.collect(window, entries, sweep.C, out)
			cancel()
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return out, nil
}

func (m *MDNS) browseOnce(ctx context.Context, entries chan *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(entries)
		return fmt.Errorf("%w: resolver: %v", errs.ErrDiscovery, err)
	}
	if err := resolver.Browse(ctx, protocol.ServiceType, protocol.ServiceDomain, entries); err != nil {
		return fmt.Errorf("%w: browse: %v", errs.ErrDiscovery, err)
	}
	return nil
}

func (m *MDNS) collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry, sweep <-chan time.Time, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep:
			for _, id := range m.tracker.Sweep() {
				m.log.Info("peer lost", "device_id", id)
				if !send(ctx, out, Event{Kind: PeerLost, DeviceID: id}) {
					return
				}
			}
			metrics.SetDiscoveredPeers(len(m.tracker.Peers()))
		case entry, ok := <-entries:
			if !ok {
				<-ctx.Done()
				return
			}
			ev, ok := m.handleEntry(entry)
			if ok && !send(ctx, out, ev) {
				return
			}
		}
	}
}

func (m *MDNS) handleEntry(entry *zeroconf.ServiceEntry) (Event, bool) {
	peer, err := PeerFromEntry(entry)
	if err != nil {
		m.log.Debug("ignoring service entry", "instance", entry.Instance, "err", err)
		return Event{}, false
	}
	if entry.TTL == 0 {
		if m.tracker.Forget(peer.DeviceID) {
			return Event{Kind: PeerLost, DeviceID: peer.DeviceID}, true
		}
		return Event{}, false
	}
	if !m.tracker.Seen(peer) {
		return Event{}, false
	}
	m.log.Info("peer found", "device_id", peer.DeviceID, "device_name", peer.Name, "addr", peer.Addr())
	metrics.SetDiscoveredPeers(len(m.tracker.Peers()))
	return Event{Kind: PeerFound, Peer: peer, DeviceID: peer.DeviceID}, true
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// PeerFromEntry converts a resolved service into a Peer.
func PeerFromEntry(entry *zeroconf.ServiceEntry) (model.Peer, error) {
	id, fp, version, err := ParseTXT(entry.Text)
	if err != nil {
		return model.Peer{}, err
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return model.Peer{}, fmt.Errorf("%w: service %q has no address", errs.ErrDiscovery, entry.Instance)
	}
	name := entry.Instance
	if i := strings.LastIndex(name, "-"); i > 0 {
		name = name[:i]
	}
	return model.Peer{
		DeviceID:        id,
		Name:            name,
		Fingerprint:     fp,
		Host:            host,
		Port:            entry.Port,
		ProtocolVersion: version,
	}, nil
}

func (m *MDNS) Peers() []model.Peer {
	return m.tracker.Peers()
}

func (m *MDNS) Peer(id uuid.UUID) (model.Peer, bool) {
	return m.tracker.Get(id)
}

func (m *MDNS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
	return nil
}
