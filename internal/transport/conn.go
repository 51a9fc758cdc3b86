// Package transport wraps a TCP stream in omniclip framing.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
	"omniclip/internal/protocol"
)

const DefaultDialTimeout = 5 * time.Second

// Conn carries framed messages over one stream. Send is safe for concurrent
// use; Recv must only be called from one goroutine at a time.
type Conn struct {
	conn net.Conn
	wmu  sync.Mutex

	mu       sync.RWMutex
	peerID   uuid.UUID
	peerName string
	key      *crypto.SessionKey
}

func New(c net.Conn) *Conn {
	return &Conn{conn: c}
}

func Dial(ctx context.Context, addr string) (*Conn, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errs.ErrNetwork, addr, err)
	}
	return New(c), nil
}

func (c *Conn) Send(msg protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteMessage(c.conn, msg)
}

func (c *Conn) Recv() (protocol.Message, error) {
	return protocol.ReadMessage(c.conn)
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetPeer records who is on the other end once a handshake has completed.
func (c *Conn) SetPeer(id uuid.UUID, name string, key *crypto.SessionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerID = id
	c.peerName = name
	c.key = key
}

func (c *Conn) Peer() (uuid.UUID, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerID, c.peerName
}

func (c *Conn) SessionKey() *crypto.SessionKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Reader is the receive half of a Conn.
type Reader struct{ c *Conn }

// Writer is the send half of a Conn. Frames from concurrent writers never
// interleave.
type Writer struct{ c *Conn }

func (r *Reader) Recv() (protocol.Message, error) { return r.c.Recv() }

func (w *Writer) Send(msg protocol.Message) error { return w.c.Send(msg) }

// Split hands out the two halves so reading and writing can live in
// different goroutines.
func (c *Conn) Split() (*Reader, *Writer) {
	return &Reader{c: c}, &Writer{c: c}
}
