package syncserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
	"omniclip/internal/middleware"
	"omniclip/internal/model"
	"omniclip/internal/pairing"
	"omniclip/internal/protocol"
	"omniclip/internal/store"
	"omniclip/internal/transport"
)

type fixture struct {
	srv      *Server
	identity *model.Identity
	sessions *pairing.Registry
	devices  *store.Devices
	cancel   context.CancelFunc
	done     chan error
}

func newFixture(t *testing.T, limiter *middleware.RateLimiter) *fixture {
	t.Helper()
	identity, err := model.NewIdentity("desk")
	require.NoError(t, err)

	f := &fixture{
		identity: identity,
		sessions: pairing.NewRegistry(time.Minute, pairing.PolicySingle),
		devices:  store.NewDevices(),
		done:     make(chan error, 1),
	}
	f.srv = New(Config{
		Identity:    identity,
		Sessions:    f.sessions,
		Devices:     f.devices,
		PairLimiter: limiter,
		ReadTimeout: 2 * time.Second,
	})
	require.NoError(t, f.srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.done
	})
	return f
}

func (f *fixture) dial(t *testing.T) *transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := transport.Dial(ctx, f.srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))
	return c
}

func (f *fixture) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-f.srv.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server event")
		return nil
	}
}

func pairPhone(t *testing.T, f *fixture) (*model.Identity, *crypto.SessionKey) {
	t.Helper()
	phone, err := model.NewIdentity("phone")
	require.NoError(t, err)

	session, _, err := f.sessions.Start()
	require.NoError(t, err)
	req, err := pairing.NewRequester(session.Descriptor("127.0.0.1", f.srv.Port(), f.identity.Name))
	require.NoError(t, err)

	c := f.dial(t)
	require.NoError(t, c.Send(req.Request(phone)))
	msg, err := c.Recv()
	require.NoError(t, err)
	accept, ok := msg.(*protocol.PairAccept)
	require.True(t, ok, "expected PairAccept, got %T", msg)

	key, err := req.Finish(accept)
	require.NoError(t, err)
	return phone, key
}

func TestServer_Pairing(t *testing.T) {
	f := newFixture(t, nil)
	phone, key := pairPhone(t, f)

	ev, ok := f.nextEvent(t).(DevicePaired)
	require.True(t, ok)
	require.Equal(t, phone.ID, ev.Device.ID)
	require.Equal(t, "phone", ev.Device.Name)
	require.Equal(t, phone.Fingerprint(), ev.Device.Fingerprint)
	require.True(t, key.Equal(ev.Device.SessionKey))

	stored, ok := f.devices.Get(phone.ID)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:17394", stored.Addr)

	_, active := f.sessions.Current()
	require.False(t, active)
}

func TestServer_SessionMismatchKeepsSession(t *testing.T) {
	f := newFixture(t, nil)
	phone, err := model.NewIdentity("phone")
	require.NoError(t, err)

	session, _, err := f.sessions.Start()
	require.NoError(t, err)

	wrong, err := pairing.NewRequester(pairing.Descriptor{SessionID: uuid.New(), PublicKey: session.PublicKey()})
	require.NoError(t, err)
	c := f.dial(t)
	require.NoError(t, c.Send(wrong.Request(phone)))
	msg, err := c.Recv()
	require.NoError(t, err)
	reject, ok := msg.(*protocol.PairReject)
	require.True(t, ok, "expected PairReject, got %T", msg)
	require.NotEmpty(t, reject.Reason)
	require.Zero(t, f.devices.Len())

	cur, ok := f.sessions.Current()
	require.True(t, ok)
	require.Equal(t, session.ID, cur.ID)

	right, err := pairing.NewRequester(session.Descriptor("127.0.0.1", f.srv.Port(), "desk"))
	require.NoError(t, err)
	c2 := f.dial(t)
	require.NoError(t, c2.Send(right.Request(phone)))
	msg, err = c2.Recv()
	require.NoError(t, err)
	accept, ok := msg.(*protocol.PairAccept)
	require.True(t, ok)
	_, err = right.Finish(accept)
	require.NoError(t, err)
}

func TestServer_BadEphemeralKeepsSession(t *testing.T) {
	f := newFixture(t, nil)
	phone, err := model.NewIdentity("phone")
	require.NoError(t, err)

	session, _, err := f.sessions.Start()
	require.NoError(t, err)

	c := f.dial(t)
	require.NoError(t, c.Send(&protocol.PairRequest{
		SessionID:       session.ID,
		DeviceID:        phone.ID,
		DeviceName:      phone.Name,
		EphemeralPubkey: crypto.PublicKey{},
		IdentityPubkey:  phone.Signing.Public(),
	}))
	msg, err := c.Recv()
	require.NoError(t, err)
	_, ok := msg.(*protocol.PairReject)
	require.True(t, ok, "expected PairReject, got %T", msg)
	require.Zero(t, f.devices.Len())

	cur, ok := f.sessions.Current()
	require.True(t, ok)
	require.Equal(t, session.ID, cur.ID)

	right, err := pairing.NewRequester(session.Descriptor("127.0.0.1", f.srv.Port(), "desk"))
	require.NoError(t, err)
	c2 := f.dial(t)
	require.NoError(t, c2.Send(right.Request(phone)))
	msg, err = c2.Recv()
	require.NoError(t, err)
	accept, ok := msg.(*protocol.PairAccept)
	require.True(t, ok, "expected PairAccept, got %T", msg)
	_, err = right.Finish(accept)
	require.NoError(t, err)
}

func TestServer_NoActiveSession(t *testing.T) {
	f := newFixture(t, nil)
	phone, err := model.NewIdentity("phone")
	require.NoError(t, err)
	req, err := pairing.NewRequester(pairing.Descriptor{SessionID: uuid.New()})
	require.NoError(t, err)

	c := f.dial(t)
	require.NoError(t, c.Send(req.Request(phone)))
	msg, err := c.Recv()
	require.NoError(t, err)
	_, ok := msg.(*protocol.PairReject)
	require.True(t, ok)
}

func TestServer_PairRateLimit(t *testing.T) {
	f := newFixture(t, middleware.NewRateLimiter(1, time.Minute))
	phone, err := model.NewIdentity("phone")
	require.NoError(t, err)

	for i, want := range []string{"no active pairing session", "rate limited"} {
		req, err := pairing.NewRequester(pairing.Descriptor{SessionID: uuid.New()})
		require.NoError(t, err)
		c := f.dial(t)
		require.NoError(t, c.Send(req.Request(phone)))
		msg, err := c.Recv()
		require.NoError(t, err)
		reject, ok := msg.(*protocol.PairReject)
		require.True(t, ok, "attempt %d", i)
		require.Contains(t, reject.Reason, want)
	}
}

func TestServer_ClipboardSyncFromPairedDevice(t *testing.T) {
	f := newFixture(t, nil)
	phone, key := pairPhone(t, f)
	_ = f.nextEvent(t)

	content := protocol.Text("hello")
	plain, err := protocol.EncodeContent(content)
	require.NoError(t, err)
	sealed, err := key.Encrypt(plain)
	require.NoError(t, err)

	sync := &protocol.ClipboardSync{
		MessageID:        uuid.New(),
		SenderID:         phone.ID,
		ContentHash:      content.Hash(),
		EncryptedContent: sealed,
		Timestamp:        uint64(time.Now().Unix()),
	}
	c := f.dial(t)
	require.NoError(t, c.Send(sync))

	msg, err := c.Recv()
	require.NoError(t, err)
	require.Equal(t, &protocol.Ack{MessageID: sync.MessageID}, msg)

	ev, ok := f.nextEvent(t).(ClipboardReceived)
	require.True(t, ok)
	require.Equal(t, phone.ID, ev.From)
	require.Equal(t, sync.MessageID, ev.Message.MessageID)
	require.Equal(t, content, ev.Content)
}

func TestServer_ClipboardSyncThatFailsToOpenIsNotAcked(t *testing.T) {
	f := newFixture(t, nil)
	phone, key := pairPhone(t, f)
	_ = f.nextEvent(t)

	content := protocol.Text("hello")
	plain, err := protocol.EncodeContent(content)
	require.NoError(t, err)
	sealed, err := key.Encrypt(plain)
	require.NoError(t, err)
	wrongKey, err := crypto.DeriveSessionKey(make([]byte, 32))
	require.NoError(t, err)
	forged, err := wrongKey.Encrypt(plain)
	require.NoError(t, err)

	cases := map[string]*protocol.ClipboardSync{
		"wrong key": {
			MessageID:        uuid.New(),
			SenderID:         phone.ID,
			ContentHash:      content.Hash(),
			EncryptedContent: forged,
		},
		"hash mismatch": {
			MessageID:        uuid.New(),
			SenderID:         phone.ID,
			ContentHash:      protocol.Text("other").Hash(),
			EncryptedContent: sealed,
		},
	}
	for name, sync := range cases {
		c := f.dial(t)
		require.NoError(t, c.Send(sync), name)
		_, err := c.Recv()
		require.ErrorIs(t, err, errs.ErrNetwork, name)
	}

	select {
	case ev := <-f.srv.Events():
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServer_ClipboardSyncFromUnknownDeviceIsDropped(t *testing.T) {
	f := newFixture(t, nil)

	c := f.dial(t)
	require.NoError(t, c.Send(&protocol.ClipboardSync{MessageID: uuid.New(), SenderID: uuid.New()}))

	_ = c.SetDeadline(time.Now().Add(300 * time.Millisecond))
	_, err := c.Recv()
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected no response, got %v", err)

	select {
	case ev := <-f.srv.Events():
		t.Fatalf("unexpected event %T", ev)
	default:
	}
}

func TestServer_SurvivesBadConnections(t *testing.T) {
	f := newFixture(t, nil)

	raw, err := net.Dial("tcp", f.srv.Addr().String())
	require.NoError(t, err)
	_, _ = raw.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_ = raw.Close()

	raw, err = net.Dial("tcp", f.srv.Addr().String())
	require.NoError(t, err)
	_, _ = raw.Write([]byte{0, 0, 0, 2, '{', '}'})
	_ = raw.Close()

	_, _ = pairPhone(t, f)
	_, ok := f.nextEvent(t).(DevicePaired)
	require.True(t, ok)
}

func TestServer_IgnoresOtherMessages(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	require.NoError(t, c.Send(&protocol.Ping{Timestamp: 1}))

	_ = c.SetDeadline(time.Now().Add(300 * time.Millisecond))
	_, err := c.Recv()
	require.Error(t, err)
}

func TestServer_CancelClosesConnections(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	require.NoError(t, c.Send(&protocol.Ping{Timestamp: 1}))
	time.Sleep(50 * time.Millisecond)

	f.cancel()
	select {
	case err := <-f.done:
		require.NoError(t, err)
		f.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}

	_, err := c.Recv()
	require.Error(t, err)

	_, err = net.DialTimeout("tcp", f.srv.Addr().String(), 200*time.Millisecond)
	require.Error(t, err)
}
