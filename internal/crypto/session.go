package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"omniclip/internal/errs"
)

const SessionKeyInfo = "omniclip-session-key"

const NonceSize = 12

var ErrDecrypt = fmt.Errorf("%w: decryption failed", errs.ErrCrypto)

type Nonce [NonceSize]byte

func (n Nonce) MarshalText() ([]byte, error) {
	return encodeFixed(n[:]), nil
}

func (n *Nonce) UnmarshalText(text []byte) error {
	return decodeFixed("nonce", text, n[:])
}

type EncryptedPayload struct {
	Nonce      Nonce  `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SessionKey is the symmetric key shared by a pair of devices.
type SessionKey struct {
	raw  [32]byte
	aead cipher.AEAD
}

// DeriveSessionKey hashes the X25519 shared secret together with
// SessionKeyInfo into an AES-256-GCM key.
func DeriveSessionKey(shared []byte) (*SessionKey, error) {
	if len(shared) == 0 {
		return nil, fmt.Errorf("%w: empty shared secret", errs.ErrCrypto)
	}
	h := sha256.New()
	h.Write(shared)
	h.Write([]byte(SessionKeyInfo))

	k := &SessionKey{}
	copy(k.raw[:], h.Sum(nil))

	block, err := aes.NewCipher(k.raw[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCrypto, err)
	}
	k.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCrypto, err)
	}
	return k, nil
}

func (k *SessionKey) Encrypt(plaintext []byte) (EncryptedPayload, error) {
	var out EncryptedPayload
	if _, err := rand.Read(out.Nonce[:]); err != nil {
		return EncryptedPayload{}, fmt.Errorf("%w: nonce: %v", errs.ErrCrypto, err)
	}
	out.Ciphertext = k.aead.Seal(nil, out.Nonce[:], plaintext, nil)
	return out, nil
}

func (k *SessionKey) Decrypt(p EncryptedPayload) ([]byte, error) {
	plaintext, err := k.aead.Open(nil, p.Nonce[:], p.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (k *SessionKey) Equal(other *SessionKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return subtle.ConstantTimeCompare(k.raw[:], other.raw[:]) == 1
}
