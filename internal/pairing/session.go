// Package pairing implements the QR-initiated pairing handshake: pairing
// sessions, the descriptor carried by the QR code, the registry of open
// sessions and both sides of the key exchange.
package pairing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
)

// Session is one pairing offer. It can be completed at most once.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu        sync.Mutex
	ephemeral *crypto.EphemeralSecret
	public    crypto.PublicKey
}

func NewSession() (*Session, error) {
	return newSessionAt(time.Now())
}

func newSessionAt(now time.Time) (*Session, error) {
	eph, err := crypto.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        uuid.New(),
		CreatedAt: now,
		ephemeral: eph,
		public:    eph.PublicKey(),
	}, nil
}

func (s *Session) PublicKey() crypto.PublicKey {
	return s.public
}

func (s *Session) Descriptor(host string, port int, name string) Descriptor {
	return Descriptor{
		SessionID: s.ID,
		PublicKey: s.public,
		Host:      host,
		Port:      port,
		Name:      name,
	}
}

// Complete runs the exchange against the peer's ephemeral key and derives
// the session key. The ephemeral secret is gone afterwards. A peer key that
// fails the exchange leaves the session open.
func (s *Session) Complete(peer crypto.PublicKey) (*crypto.SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ephemeral == nil {
		return nil, fmt.Errorf("%w: pairing session %s already completed", errs.ErrCrypto, s.ID)
	}
	shared, err := s.ephemeral.DiffieHellman(peer)
	if err != nil {
		return nil, err
	}
	s.ephemeral = nil
	return crypto.DeriveSessionKey(shared)
}

// Open reports whether the session can still be completed.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ephemeral != nil
}
