package pairing

import (
	"fmt"

	"omniclip/internal/auth"
	"omniclip/internal/crypto"
	"omniclip/internal/errs"
	"omniclip/internal/model"
	"omniclip/internal/protocol"
)

// Respond completes session against req on the device that showed the QR
// code. It returns the PairAccept to send back and the derived key.
func Respond(id *model.Identity, s *Session, req *protocol.PairRequest) (*protocol.PairAccept, *crypto.SessionKey, error) {
	if req.SessionID != s.ID {
		return nil, nil, fmt.Errorf("%w: got %s, want %s", ErrSessionMismatch, req.SessionID, s.ID)
	}
	key, err := s.Complete(req.EphemeralPubkey)
	if err != nil {
		return nil, nil, err
	}
	accept := &protocol.PairAccept{
		SessionID:       s.ID,
		DeviceID:        id.ID,
		DeviceName:      id.Name,
		EphemeralPubkey: s.PublicKey(),
		IdentityPubkey:  id.Signing.Public(),
		Signature:       auth.SignTranscript(id.Signing, s.ID, s.PublicKey(), req.EphemeralPubkey),
	}
	return accept, key, nil
}

// Requester is the scanning side of a pairing.
type Requester struct {
	desc      Descriptor
	ephemeral *crypto.EphemeralSecret
}

func NewRequester(desc Descriptor) (*Requester, error) {
	eph, err := crypto.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	return &Requester{desc: desc, ephemeral: eph}, nil
}

func (r *Requester) Descriptor() Descriptor { return r.desc }

func (r *Requester) Request(id *model.Identity) *protocol.PairRequest {
	return &protocol.PairRequest{
		SessionID:       r.desc.SessionID,
		DeviceID:        id.ID,
		DeviceName:      id.Name,
		EphemeralPubkey: r.ephemeral.PublicKey(),
		IdentityPubkey:  id.Signing.Public(),
	}
}

// Finish checks the accept against the scanned descriptor and derives the
// session key. The responder's ephemeral key must be the one from the QR
// code, and the transcript must be signed by the identity key it presents.
func (r *Requester) Finish(accept *protocol.PairAccept) (*crypto.SessionKey, error) {
	if accept.SessionID != r.desc.SessionID {
		return nil, fmt.Errorf("%w: accept for %s, want %s", ErrSessionMismatch, accept.SessionID, r.desc.SessionID)
	}
	if accept.EphemeralPubkey != r.desc.PublicKey {
		return nil, fmt.Errorf("%w: responder ephemeral key does not match pairing code", errs.ErrCrypto)
	}
	err := auth.VerifyTranscript(
		accept.IdentityPubkey,
		accept.SessionID,
		accept.EphemeralPubkey,
		r.ephemeral.PublicKey(),
		accept.Signature,
	)
	if err != nil {
		return nil, err
	}
	shared, err := r.ephemeral.DiffieHellman(accept.EphemeralPubkey)
	if err != nil {
		return nil, err
	}
	return crypto.DeriveSessionKey(shared)
}
