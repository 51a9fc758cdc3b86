// Package service ties the sync server, discovery, the clipboard monitor and
// the pairing registry together and reports what happens on one channel.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"omniclip/internal/clipboard"
	"omniclip/internal/discovery"
	"omniclip/internal/errs"
	"omniclip/internal/logging"
	"omniclip/internal/metrics"
	"omniclip/internal/middleware"
	"omniclip/internal/model"
	"omniclip/internal/pairing"
	"omniclip/internal/protocol"
	"omniclip/internal/store"
	"omniclip/internal/syncserver"
	"omniclip/internal/transport"
)

const (
	DefaultPairTimeout = 15 * time.Second
	maxParallelSends   = 8
)

var ErrAlreadyStarted = errors.New("service already started")

type Options struct {
	Identity *model.Identity
	// ListenAddr is where the sync server binds, e.g. ":17394".
	ListenAddr    string
	AdvertiseHost string

	PairingTTL            time.Duration
	PairingPolicy         pairing.Policy
	PairAttemptsPerMinute int

	PollInterval time.Duration
	ApplyRemote  bool

	// Clipboard is optional. Without it no local changes are picked up and
	// remote content is only reported.
	Clipboard clipboard.Clipboard
	// Discovery is optional.
	Discovery discovery.Discovery
	Sender    Sender
	Logger    *slog.Logger
}

// Offer is a pairing session ready to be shown as a QR code.
type Offer struct {
	Descriptor pairing.Descriptor
	URL        string
	ExpiresAt  time.Time
}

type Service struct {
	opts     Options
	log      *slog.Logger
	identity *model.Identity
	sessions *pairing.Registry
	devices  *store.Devices
	server   *syncserver.Server
	monitor  *clipboard.Monitor
	limiter  *middleware.RateLimiter

	events chan Event
	done   chan struct{}

	mu       sync.RWMutex
	ctx      context.Context
	started  bool
	lastSent protocol.ContentHash

	// emitMu guards open and the closing of events.
	emitMu sync.RWMutex
	open   bool
}

func New(opts Options) (*Service, error) {
	if opts.Identity == nil {
		return nil, fmt.Errorf("identity is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Sender == nil {
		opts.Sender = DialSender{}
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = fmt.Sprintf(":%d", protocol.DefaultPort)
	}

	log := opts.Logger.With("component", "service")
	sessions := pairing.NewRegistry(opts.PairingTTL, opts.PairingPolicy)
	devices := store.NewDevices()

	var limiter *middleware.RateLimiter
	if opts.PairAttemptsPerMinute > 0 {
		limiter = middleware.NewRateLimiter(opts.PairAttemptsPerMinute, time.Minute)
	}

	s := &Service{
		opts:     opts,
		log:      log,
		identity: opts.Identity,
		sessions: sessions,
		devices:  devices,
		server: syncserver.New(syncserver.Config{
			Identity:    opts.Identity,
			Sessions:    sessions,
			Devices:     devices,
			PairLimiter: limiter,
			Logger:      opts.Logger,
		}),
		limiter: limiter,
		events:  make(chan Event, EventBuffer),
		done:    make(chan struct{}),
	}
	if opts.Clipboard != nil {
		s.monitor = clipboard.NewMonitor(opts.Clipboard, opts.PollInterval, opts.Logger)
	}
	return s, nil
}

// Start binds the sync server, announces the device, starts the clipboard
// monitor and the relays feeding the returned channel. The channel is closed
// once ctx is done and every relay has stopped.
func (s *Service) Start(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.server.Listen(s.opts.ListenAddr); err != nil {
		return nil, err
	}

	var found <-chan discovery.Event
	if d := s.opts.Discovery; d != nil {
		err := d.Register(discovery.Announcement{
			DeviceID:    s.identity.ID,
			Name:        s.identity.Name,
			Fingerprint: s.identity.Fingerprint(),
			Port:        s.server.Port(),
		})
		if err == nil {
			found, err = d.Browse(ctx)
		}
		if err != nil {
			_ = d.Close()
			_ = s.server.Close()
			return nil, err
		}
	}

	s.emitMu.Lock()
	s.open = true
	s.emitMu.Unlock()

	var relays sync.WaitGroup
	relays.Add(2)
	go func() {
		defer relays.Done()
		if err := s.server.Serve(ctx); err != nil {
			s.log.Error("sync server stopped", "err", err)
			s.emit(Error{Err: err})
		}
	}()
	go func() {
		defer relays.Done()
		s.relayServer(ctx)
	}()

	if found != nil {
		relays.Add(1)
		go func() {
			defer relays.Done()
			s.relayDiscovery(found)
		}()
	}

	if s.monitor != nil {
		changes := s.monitor.Start(ctx)
		relays.Add(1)
		go func() {
			defer relays.Done()
			for change := range changes {
				if err := s.HandleClipboardChange(ctx, change.Content); err != nil {
					s.log.Warn("failed to send clipboard change", "kind", errs.Kind(err), "err", err)
					s.emit(Error{Err: err})
				}
			}
		}()
	}

	go func() {
		<-ctx.Done()
		close(s.done)
		relays.Wait()
		if d := s.opts.Discovery; d != nil {
			_ = d.Close()
		}
		if s.limiter != nil {
			s.limiter.Stop()
		}
		s.emitMu.Lock()
		s.open = false
		close(s.events)
		s.emitMu.Unlock()
		s.log.Info("service stopped")
	}()

	s.log.Info("service started",
		"device_id", s.identity.ID,
		"device_name", s.identity.Name,
		"fingerprint", s.identity.Fingerprint(),
		"port", s.server.Port(),
	)
	return s.events, nil
}

func (s *Service) relayServer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.server.Events():
			switch e := ev.(type) {
			case syncserver.DevicePaired:
				s.emit(PairingRequest{
					DeviceID:    e.Device.ID,
					DeviceName:  e.Device.Name,
					Fingerprint: e.Device.Fingerprint,
				})
			case syncserver.ClipboardReceived:
				s.handleIncoming(e.From, e.Content)
			}
		}
	}
}

func (s *Service) relayDiscovery(found <-chan discovery.Event) {
	for ev := range found {
		switch ev.Kind {
		case discovery.PeerFound:
			if s.devices.SetAddr(ev.Peer.DeviceID, ev.Peer.Addr()) {
				s.log.Debug("updated paired device address", "device_id", ev.Peer.DeviceID, "addr", ev.Peer.Addr())
			}
			s.emit(DeviceDiscovered{Peer: ev.Peer})
		case discovery.PeerLost:
			s.emit(DeviceLost{DeviceID: ev.DeviceID})
		}
	}
}

// handleIncoming takes content the server already authenticated under the
// sender's session key. A device unpaired in the meantime is ignored.
func (s *Service) handleIncoming(from uuid.UUID, content protocol.Content) {
	device, ok := s.devices.Get(from)
	if !ok {
		metrics.Clipboard("in", "unknown_sender")
		return
	}
	hash := content.Hash()

	s.mu.Lock()
	s.lastSent = hash
	s.mu.Unlock()

	if s.opts.ApplyRemote && s.monitor != nil {
		if err := s.monitor.Apply(content); err != nil {
			s.emit(Error{Err: fmt.Errorf("%w: apply remote content: %v", errs.ErrClipboard, err)})
		}
	}

	metrics.Clipboard("in", "received")
	s.log.Info("clipboard received", "device_id", from, "device_name", device.Name, "hash", hash.String())
	s.emit(ClipboardReceived{From: from, Content: content})
}

// releaseClaim undoes a lastSent claim for a change that was never sent,
// unless something newer has been recorded since.
func (s *Service) releaseClaim(hash, prev protocol.ContentHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSent == hash {
		s.lastSent = prev
	}
}

// HandleClipboardChange encrypts content for every paired device and sends
// it in the background. Content equal to the last thing sent or received is
// not sent again.
func (s *Service) HandleClipboardChange(ctx context.Context, content protocol.Content) error {
	if content.IsEmpty() {
		return nil
	}
	hash := content.Hash()
	devices := s.devices.List()
	if len(devices) == 0 {
		return nil
	}

	// Compare and claim in one step so two callers with the same content
	// cannot both send it.
	s.mu.Lock()
	prev := s.lastSent
	if hash == prev {
		s.mu.Unlock()
		metrics.Clipboard("out", "suppressed")
		s.log.Debug("suppressing echo", "hash", hash.String())
		return nil
	}
	s.lastSent = hash
	s.mu.Unlock()

	plaintext, err := protocol.EncodeContent(content)
	if err != nil {
		s.releaseClaim(hash, prev)
		return err
	}

	type outgoing struct {
		device model.PairedDevice
		addr   string
		msg    *protocol.ClipboardSync
	}
	batch := make([]outgoing, 0, len(devices))
	to := make([]uuid.UUID, 0, len(devices))
	now := uint64(time.Now().Unix())
	for _, d := range devices {
		payload, err := d.SessionKey.Encrypt(plaintext)
		if err != nil {
			s.releaseClaim(hash, prev)
			return err
		}
		batch = append(batch, outgoing{
			device: d,
			addr:   s.addrFor(d),
			msg: &protocol.ClipboardSync{
				MessageID:        uuid.New(),
				SenderID:         s.identity.ID,
				ContentHash:      hash,
				EncryptedContent: payload,
				Timestamp:        now,
			},
		})
		to = append(to, d.ID)
	}

	s.emit(ClipboardSent{To: to})

	sendCtx := s.runContext(ctx)
	go func() {
		var g errgroup.Group
		g.SetLimit(maxParallelSends)
		for _, o := range batch {
			g.Go(func() error {
				if o.addr == "" {
					err := fmt.Errorf("%w: no address for %s", errs.ErrNetwork, o.device.Name)
					s.emit(Error{Err: err})
					return err
				}
				if err := s.opts.Sender.Send(sendCtx, o.addr, o.msg); err != nil {
					metrics.Clipboard("out", "failed")
					s.log.Warn("clipboard send failed", "device_id", o.device.ID, "addr", o.addr, "kind", errs.Kind(err), "err", err)
					err = fmt.Errorf("send to %s: %w", o.device.Name, err)
					s.emit(Error{Err: err})
					return err
				}
				metrics.Clipboard("out", "sent")
				return nil
			})
		}
		if err := g.Wait(); err == nil {
			s.log.Info("clipboard sent", "hash", hash.String(), "devices", len(batch))
		}
	}()
	return nil
}

// addrFor prefers the freshest discovery record over the pairing address.
func (s *Service) addrFor(d model.PairedDevice) string {
	if s.opts.Discovery != nil {
		if p, ok := s.opts.Discovery.Peer(d.ID); ok {
			return p.Addr()
		}
	}
	return d.Addr
}

func (s *Service) runContext(fallback context.Context) context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.WithoutCancel(fallback)
}

// StartPairing opens a pairing session for the QR code.
func (s *Service) StartPairing() (Offer, error) {
	port := s.server.Port()
	if port == 0 {
		return Offer{}, fmt.Errorf("%w: service is not listening", errs.ErrNetwork)
	}
	session, expires, err := s.sessions.Start()
	if err != nil {
		return Offer{}, err
	}
	desc := session.Descriptor(s.advertiseHost(), port, s.identity.Name)
	metrics.Pairing("responder", "offered")
	s.log.Info("pairing session started", "session_id", session.ID, "expires_at", expires)
	return Offer{Descriptor: desc, URL: desc.URL(), ExpiresAt: expires}, nil
}

// PairingOffer rebuilds the offer for a session that is still open.
func (s *Service) PairingOffer(id uuid.UUID) (Offer, bool) {
	session, expires, ok := s.sessions.Get(id)
	if !ok {
		return Offer{}, false
	}
	desc := session.Descriptor(s.advertiseHost(), s.server.Port(), s.identity.Name)
	return Offer{Descriptor: desc, URL: desc.URL(), ExpiresAt: expires}, true
}

func (s *Service) CancelPairing(id uuid.UUID) bool {
	return s.sessions.Cancel(id)
}

func (s *Service) advertiseHost() string {
	if s.opts.AdvertiseHost != "" {
		return s.opts.AdvertiseHost
	}
	if ip := discovery.LocalIPv4(); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

// Pair runs the scanning side of a pairing against the device that shows
// rawURL as a QR code.
func (s *Service) Pair(ctx context.Context, rawURL string) (model.PairedDevice, error) {
	desc, err := pairing.ParseURL(rawURL)
	if err != nil {
		return model.PairedDevice{}, err
	}
	device, err := s.pair(ctx, desc)
	if err != nil {
		metrics.Pairing("requester", "failed")
		return model.PairedDevice{}, err
	}
	metrics.Pairing("requester", "accepted")
	return device, nil
}

func (s *Service) pair(ctx context.Context, desc pairing.Descriptor) (model.PairedDevice, error) {
	req, err := pairing.NewRequester(desc)
	if err != nil {
		return model.PairedDevice{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultPairTimeout)
	defer cancel()

	conn, err := transport.Dial(ctx, desc.Addr())
	if err != nil {
		return model.PairedDevice{}, err
	}
	defer conn.Close()
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	if err := conn.Send(req.Request(s.identity)); err != nil {
		return model.PairedDevice{}, err
	}
	reply, err := conn.Recv()
	if err != nil {
		return model.PairedDevice{}, err
	}

	var accept *protocol.PairAccept
	switch m := reply.(type) {
	case *protocol.PairAccept:
		accept = m
	case *protocol.PairReject:
		return model.PairedDevice{}, fmt.Errorf("%w: pairing rejected: %s", errs.ErrNotPaired, m.Reason)
	default:
		return model.PairedDevice{}, fmt.Errorf("%w: expected PairAccept, got %s", errs.ErrInvalidMessage, reply.Kind())
	}
	if accept.DeviceID == s.identity.ID {
		return model.PairedDevice{}, fmt.Errorf("%w: refusing to pair with ourselves", errs.ErrInvalidMessage)
	}

	key, err := req.Finish(accept)
	if err != nil {
		return model.PairedDevice{}, err
	}

	s.devices.Add(model.PairedDevice{
		ID:          accept.DeviceID,
		Name:        accept.DeviceName,
		SessionKey:  key,
		IdentityKey: accept.IdentityPubkey,
		Fingerprint: accept.IdentityPubkey.Fingerprint(),
		Addr:        desc.Addr(),
	})
	device, _ := s.devices.Get(accept.DeviceID)
	metrics.SetPairedDevices(s.devices.Len())
	s.log.Info("paired", "device_name", device.Name, "device_id", device.ID, "fingerprint", device.Fingerprint)

	s.emit(PairingRequest{DeviceID: device.ID, DeviceName: device.Name, Fingerprint: device.Fingerprint})
	return device, nil
}

func (s *Service) PairedDevices() []model.PairedDevice {
	return s.devices.List()
}

func (s *Service) Unpair(id uuid.UUID) bool {
	if !s.devices.Remove(id) {
		return false
	}
	metrics.SetPairedDevices(s.devices.Len())
	s.log.Info("unpaired", "device_id", id)
	return true
}

func (s *Service) Peers() []model.Peer {
	if s.opts.Discovery == nil {
		return nil
	}
	return s.opts.Discovery.Peers()
}

func (s *Service) Identity() *model.Identity {
	return s.identity
}

// Port is the bound sync port, or 0 before Start.
func (s *Service) Port() int {
	return s.server.Port()
}

// emit blocks until the event is taken or the service shuts down. Events
// after shutdown are dropped.
func (s *Service) emit(ev Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if !s.open {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
