package model

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"omniclip/internal/crypto"
)

// Identity is created once per process and never changes afterwards.
type Identity struct {
	ID      uuid.UUID
	Name    string
	Signing *crypto.SigningKey
}

func NewIdentity(name string) (*Identity, error) {
	if name == "" {
		return nil, fmt.Errorf("device name is required")
	}
	signing, err := crypto.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	return &Identity{ID: uuid.New(), Name: name, Signing: signing}, nil
}

func (i *Identity) Fingerprint() string {
	return i.Signing.Fingerprint()
}

type PairedDevice struct {
	ID          uuid.UUID
	Name        string
	SessionKey  *crypto.SessionKey
	IdentityKey crypto.VerifyingKey
	Fingerprint string
	Addr        string
	PairedAt    time.Time
	LastSeen    time.Time
}

// Peer is a device seen through discovery. It may or may not be paired.
type Peer struct {
	DeviceID        uuid.UUID
	Name            string
	Fingerprint     string
	Host            string
	Port            int
	ProtocolVersion int
	LastSeen        time.Time
}

func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}
