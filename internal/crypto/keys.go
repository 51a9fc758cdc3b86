// Package crypto holds the key material used by omniclip: long-term Ed25519
// identity keys, single-use X25519 exchange keys and AES-256-GCM session keys.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"omniclip/internal/errs"
)

const fingerprintLen = 8

type SigningKey struct {
	priv   ed25519.PrivateKey
	public VerifyingKey
}

func GenerateSigningKey() (*SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate signing key: %v", errs.ErrCrypto, err)
	}
	k := &SigningKey{priv: priv}
	copy(k.public[:], pub)
	return k, nil
}

func (k *SigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

func (k *SigningKey) Public() VerifyingKey {
	return k.public
}

func (k *SigningKey) Fingerprint() string {
	return k.public.Fingerprint()
}

// VerifyingKey is an Ed25519 public key. Its text form is standard base64.
type VerifyingKey [ed25519.PublicKeySize]byte

func (v VerifyingKey) Verify(msg, sig []byte) error {
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature length %d", errs.ErrCrypto, len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(v[:]), msg, sig) {
		return fmt.Errorf("%w: signature verification failed", errs.ErrCrypto)
	}
	return nil
}

// Fingerprint is the base64 of the first 8 bytes of SHA-256 over the key.
func (v VerifyingKey) Fingerprint() string {
	sum := sha256.Sum256(v[:])
	return base64.StdEncoding.EncodeToString(sum[:fingerprintLen])
}

func (v VerifyingKey) MarshalText() ([]byte, error) {
	return encodeFixed(v[:]), nil
}

func (v *VerifyingKey) UnmarshalText(text []byte) error {
	return decodeFixed("identity key", text, v[:])
}

func (v VerifyingKey) String() string {
	return base64.StdEncoding.EncodeToString(v[:])
}

func encodeFixed(b []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out
}

func decodeFixed(what string, text []byte, dst []byte) error {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(raw, text)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrSerialization, what, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: %s must be %d bytes, got %d", errs.ErrSerialization, what, len(dst), n)
	}
	copy(dst, raw[:n])
	return nil
}
