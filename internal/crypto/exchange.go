package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/curve25519"

	"omniclip/internal/errs"
)

// PublicKey is an X25519 public key.
type PublicKey [curve25519.PointSize]byte

func (p PublicKey) MarshalText() ([]byte, error) {
	return encodeFixed(p[:]), nil
}

func (p *PublicKey) UnmarshalText(text []byte) error {
	return decodeFixed("ephemeral key", text, p[:])
}

func (p PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(p[:])
}

// EphemeralSecret is an X25519 scalar that can take part in exactly one
// exchange. The scalar is wiped once DiffieHellman has run.
type EphemeralSecret struct {
	mu     sync.Mutex
	scalar [curve25519.ScalarSize]byte
	public PublicKey
	used   bool
}

func GenerateEphemeral() (*EphemeralSecret, error) {
	e := &EphemeralSecret{}
	if _, err := rand.Read(e.scalar[:]); err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral key: %v", errs.ErrCrypto, err)
	}
	pub, err := curve25519.X25519(e.scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: derive ephemeral public key: %v", errs.ErrCrypto, err)
	}
	copy(e.public[:], pub)
	return e, nil
}

func (e *EphemeralSecret) PublicKey() PublicKey {
	return e.public
}

func (e *EphemeralSecret) DiffieHellman(peer PublicKey) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.used {
		return nil, fmt.Errorf("%w: ephemeral key already consumed", errs.ErrCrypto)
	}
	// A rejected peer key leaves the secret usable.
	shared, err := curve25519.X25519(e.scalar[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("%w: key exchange: %v", errs.ErrCrypto, err)
	}
	e.used = true
	clear(e.scalar[:])
	return shared, nil
}
