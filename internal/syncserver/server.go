// Package syncserver accepts inbound omniclip connections: pairing requests
// from devices that scanned our QR code and clipboard updates from devices
// that are already paired.
package syncserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
	"omniclip/internal/logging"
	"omniclip/internal/metrics"
	"omniclip/internal/middleware"
	"omniclip/internal/model"
	"omniclip/internal/pairing"
	"omniclip/internal/protocol"
	"omniclip/internal/store"
	"omniclip/internal/transport"
)

const (
	EventBuffer        = 64
	DefaultReadTimeout = 30 * time.Second
)

type Event interface {
	serverEvent()
}

// DevicePaired is emitted after a PairAccept went out and the device was
// stored.
type DevicePaired struct {
	Device model.PairedDevice
}

// ClipboardReceived carries a ClipboardSync from a paired device together
// with its decrypted content, which matched the message's content hash.
type ClipboardReceived struct {
	From    uuid.UUID
	Message *protocol.ClipboardSync
	Content protocol.Content
}

func (DevicePaired) serverEvent()      {}
func (ClipboardReceived) serverEvent() {}

type Config struct {
	Identity *model.Identity
	Sessions *pairing.Registry
	Devices  *store.Devices
	// PairLimiter bounds PairRequests per remote IP. Nil disables the limit.
	PairLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	ReadTimeout time.Duration
	// PeerPort is recorded as the sync port of a device that paired with us,
	// until discovery reports something better.
	PeerPort int
}

type Server struct {
	cfg    Config
	log    *slog.Logger
	events chan Event

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.PeerPort == 0 {
		cfg.PeerPort = protocol.DefaultPort
	}
	return &Server{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "syncserver"),
		events: make(chan Event, EventBuffer),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the TCP listener. Port 0 picks a free port.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: failed to bind %s: %v", errs.ErrNetwork, addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("sync server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close releases the listener of a server that never got to Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}

func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

func (s *Server) Events() <-chan Event {
	return s.events
}

// Serve runs the accept loop until ctx is cancelled. Cancelling closes the
// listener and every open connection; handlers are not drained.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%w: server is not listening", errs.ErrNetwork)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeAll()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return fmt.Errorf("%w: listener closed", errs.ErrNetwork)
			}
			s.log.Error("accept error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		metrics.ConnectionAccepted()

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			remote := conn.RemoteAddr().String()
			s.log.Debug("handling connection", "remote", remote)
			if err := s.handle(ctx, transport.New(conn)); err != nil {
				s.log.Warn("connection error", "remote", remote, "kind", errs.Kind(err), "err", err)
			}
		}()
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

// handle reads messages until the peer hangs up or goes quiet.
func (s *Server) handle(ctx context.Context, c *transport.Conn) error {
	in, out := c.Split()
	for first := true; ; first = false {
		_ = c.SetDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := in.Recv()
		if err != nil {
			if !first && (errors.Is(err, io.EOF) || isTimeout(err)) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			metrics.FrameRejected(errs.Kind(err))
			return err
		}
		if err := s.dispatch(ctx, c, out, msg); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *transport.Conn, out *transport.Writer, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.PairRequest:
		return s.handlePairRequest(ctx, c, out, m)
	case *protocol.ClipboardSync:
		return s.handleClipboardSync(ctx, c, out, m)
	case *protocol.Announce, *protocol.PairAccept, *protocol.PairReject,
		*protocol.Ack, *protocol.Ping, *protocol.Pong:
		s.log.Debug("ignoring message", "kind", m.Kind(), "remote", c.RemoteAddr().String())
		return nil
	default:
		return fmt.Errorf("%w: unexpected message %T", errs.ErrInvalidMessage, msg)
	}
}

func (s *Server) handlePairRequest(ctx context.Context, c *transport.Conn, out *transport.Writer, req *protocol.PairRequest) error {
	host := remoteHost(c.RemoteAddr())
	s.log.Info("pairing request", "device_name", req.DeviceName, "device_id", req.DeviceID, "remote", host)

	if s.cfg.PairLimiter != nil && !s.cfg.PairLimiter.Allow(host) {
		metrics.Pairing("responder", "rate_limited")
		s.reject(out, req.SessionID, "rate limited")
		return fmt.Errorf("%w: pairing rate limit exceeded for %s", errs.ErrNetwork, host)
	}

	session, err := s.cfg.Sessions.Take(req.SessionID)
	if err != nil {
		metrics.Pairing("responder", "rejected")
		s.reject(out, req.SessionID, err.Error())
		return err
	}

	accept, key, err := pairing.Respond(s.cfg.Identity, session, req)
	if err != nil {
		metrics.Pairing("responder", "failed")
		if s.cfg.Sessions.Restore(session) {
			s.log.Debug("pairing session restored", "session_id", session.ID)
		}
		s.reject(out, req.SessionID, err.Error())
		return err
	}
	if err := out.Send(accept); err != nil {
		metrics.Pairing("responder", "failed")
		return err
	}

	device := model.PairedDevice{
		ID:          req.DeviceID,
		Name:        req.DeviceName,
		SessionKey:  key,
		IdentityKey: req.IdentityPubkey,
		Fingerprint: req.IdentityPubkey.Fingerprint(),
		Addr:        net.JoinHostPort(host, strconv.Itoa(s.cfg.PeerPort)),
	}
	s.cfg.Devices.Add(device)
	device, _ = s.cfg.Devices.Get(device.ID)
	c.SetPeer(device.ID, device.Name, key)
	metrics.Pairing("responder", "accepted")
	metrics.SetPairedDevices(s.cfg.Devices.Len())
	s.log.Info("paired", "device_name", device.Name, "device_id", device.ID, "fingerprint", device.Fingerprint)

	return s.emit(ctx, DevicePaired{Device: device})
}

func (s *Server) handleClipboardSync(ctx context.Context, c *transport.Conn, out *transport.Writer, m *protocol.ClipboardSync) error {
	// A connection that paired may only carry that device's clipboard.
	if id, name := c.Peer(); id != uuid.Nil && id != m.SenderID {
		metrics.Clipboard("in", "sender_mismatch")
		s.log.Warn("clipboard sync sender does not match paired peer", "peer", name, "sender_id", m.SenderID)
		return nil
	}
	device, ok := s.cfg.Devices.Get(m.SenderID)
	if !ok {
		metrics.Clipboard("in", "unknown_sender")
		s.log.Warn("clipboard sync from unknown device", "device_id", m.SenderID, "remote", c.RemoteAddr().String())
		return nil
	}
	// Only content that authenticates under the sender's key is acked.
	content, err := openSync(device.SessionKey, m)
	if err != nil {
		return err
	}
	s.cfg.Devices.Touch(m.SenderID)
	if err := s.emit(ctx, ClipboardReceived{From: m.SenderID, Message: m, Content: content}); err != nil {
		return err
	}
	return out.Send(&protocol.Ack{MessageID: m.MessageID})
}

func openSync(key *crypto.SessionKey, m *protocol.ClipboardSync) (protocol.Content, error) {
	plaintext, err := key.Decrypt(m.EncryptedContent)
	if err != nil {
		metrics.Clipboard("in", "decrypt_failed")
		return protocol.Content{}, fmt.Errorf("clipboard sync %s from %s: %w", m.MessageID, m.SenderID, err)
	}
	content, err := protocol.DecodeContent(plaintext)
	if err != nil {
		metrics.Clipboard("in", "invalid")
		return protocol.Content{}, fmt.Errorf("clipboard sync %s from %s: %w", m.MessageID, m.SenderID, err)
	}
	if content.Hash() != m.ContentHash {
		metrics.Clipboard("in", "hash_mismatch")
		return protocol.Content{}, fmt.Errorf("%w: clipboard sync %s from %s: content hash mismatch", errs.ErrCrypto, m.MessageID, m.SenderID)
	}
	return content, nil
}

func (s *Server) reject(out *transport.Writer, sessionID uuid.UUID, reason string) {
	if err := out.Send(&protocol.PairReject{SessionID: sessionID, Reason: reason}); err != nil {
		s.log.Debug("failed to send PairReject", "err", err)
	}
}

func (s *Server) emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
