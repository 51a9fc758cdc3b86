package auth

import (
	"fmt"

	"github.com/google/uuid"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
)

var ErrInvalidSignature = fmt.Errorf("%w: invalid transcript signature", errs.ErrCrypto)

// Transcript binds a pairing to its session and to both ephemeral keys:
// session id (16 bytes) || responder key (32) || requester key (32).
func Transcript(sessionID uuid.UUID, responderEph, requesterEph crypto.PublicKey) []byte {
	out := make([]byte, 0, len(sessionID)+len(responderEph)+len(requesterEph))
	out = append(out, sessionID[:]...)
	out = append(out, responderEph[:]...)
	out = append(out, requesterEph[:]...)
	return out
}

func SignTranscript(key *crypto.SigningKey, sessionID uuid.UUID, responderEph, requesterEph crypto.PublicKey) []byte {
	return key.Sign(Transcript(sessionID, responderEph, requesterEph))
}

func VerifyTranscript(pub crypto.VerifyingKey, sessionID uuid.UUID, responderEph, requesterEph crypto.PublicKey, sig []byte) error {
	if err := pub.Verify(Transcript(sessionID, responderEph, requesterEph), sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
