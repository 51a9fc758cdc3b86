package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
)

// Message is one of the eight wire messages. The set is closed: only the
// types in this file implement it.
type Message interface {
	Kind() string
	message()
}

type Announce struct {
	DeviceID          uuid.UUID `json:"device_id"`
	DeviceName        string    `json:"device_name"`
	PubkeyFingerprint string    `json:"pubkey_fingerprint"`
	ProtocolVersion   uint16    `json:"protocol_version"`
}

type PairRequest struct {
	SessionID       uuid.UUID           `json:"session_id"`
	DeviceID        uuid.UUID           `json:"device_id"`
	DeviceName      string              `json:"device_name"`
	EphemeralPubkey crypto.PublicKey    `json:"ephemeral_pubkey"`
	IdentityPubkey  crypto.VerifyingKey `json:"identity_pubkey"`
}

type PairAccept struct {
	SessionID       uuid.UUID           `json:"session_id"`
	DeviceID        uuid.UUID           `json:"device_id"`
	DeviceName      string              `json:"device_name"`
	EphemeralPubkey crypto.PublicKey    `json:"ephemeral_pubkey"`
	IdentityPubkey  crypto.VerifyingKey `json:"identity_pubkey"`
	Signature       []byte              `json:"signature"`
}

type PairReject struct {
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
}

type ClipboardSync struct {
	MessageID        uuid.UUID               `json:"message_id"`
	SenderID         uuid.UUID               `json:"sender_id"`
	ContentHash      ContentHash             `json:"content_hash"`
	EncryptedContent crypto.EncryptedPayload `json:"encrypted_content"`
	Timestamp        uint64                  `json:"timestamp"`
}

type Ack struct {
	MessageID uuid.UUID `json:"message_id"`
}

type Ping struct {
	Timestamp uint64 `json:"timestamp"`
}

type Pong struct {
	Timestamp uint64 `json:"timestamp"`
}

func (*Announce) Kind() string      { return "Announce" }
func (*PairRequest) Kind() string   { return "PairRequest" }
func (*PairAccept) Kind() string    { return "PairAccept" }
func (*PairReject) Kind() string    { return "PairReject" }
func (*ClipboardSync) Kind() string { return "ClipboardSync" }
func (*Ack) Kind() string           { return "Ack" }
func (*Ping) Kind() string          { return "Ping" }
func (*Pong) Kind() string          { return "Pong" }

func (*Announce) message()      {}
func (*PairRequest) message()   {}
func (*PairAccept) message()    {}
func (*PairReject) message()    {}
func (*ClipboardSync) message() {}
func (*Ack) message()           {}
func (*Ping) message()          {}
func (*Pong) message()          {}

var constructors = map[string]func() Message{
	"Announce":      func() Message { return &Announce{} },
	"PairRequest":   func() Message { return &PairRequest{} },
	"PairAccept":    func() Message { return &PairAccept{} },
	"PairReject":    func() Message { return &PairReject{} },
	"ClipboardSync": func() Message { return &ClipboardSync{} },
	"Ack":           func() Message { return &Ack{} },
	"Ping":          func() Message { return &Ping{} },
	"Pong":          func() Message { return &Pong{} },
}

// Marshal encodes msg as {"<Kind>": {...}}.
func Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", errs.ErrSerialization)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrSerialization, msg.Kind(), err)
	}
	out, err := json.Marshal(map[string]json.RawMessage{msg.Kind(): body})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrSerialization, msg.Kind(), err)
	}
	return out, nil
}

func Unmarshal(data []byte) (Message, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSerialization, err)
	}
	if len(env) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one message variant, got %d", errs.ErrInvalidMessage, len(env))
	}
	for kind, body := range env {
		newMsg, ok := constructors[kind]
		if !ok {
			return nil, fmt.Errorf("%w: unknown message type %q", errs.ErrInvalidMessage, kind)
		}
		msg := newMsg()
		if err := json.Unmarshal(body, msg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrSerialization, kind, err)
		}
		return msg, nil
	}
	return nil, fmt.Errorf("%w: empty envelope", errs.ErrInvalidMessage)
}
