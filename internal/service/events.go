package service

import (
	"github.com/google/uuid"

	"omniclip/internal/model"
	"omniclip/internal/protocol"
)

const EventBuffer = 64

// Event is anything the service reports to its owner. The set is closed.
type Event interface {
	Type() string
	serviceEvent()
}

type DeviceDiscovered struct {
	Peer model.Peer
}

type DeviceLost struct {
	DeviceID uuid.UUID
}

// PairingRequest reports a completed pairing, on either side.
type PairingRequest struct {
	DeviceID    uuid.UUID
	DeviceName  string
	Fingerprint string
}

type ClipboardReceived struct {
	From    uuid.UUID
	Content protocol.Content
}

type ClipboardSent struct {
	To []uuid.UUID
}

type Error struct {
	Err error
}

func (DeviceDiscovered) Type() string  { return "device_discovered" }
func (DeviceLost) Type() string        { return "device_lost" }
func (PairingRequest) Type() string    { return "pairing_request" }
func (ClipboardReceived) Type() string { return "clipboard_received" }
func (ClipboardSent) Type() string     { return "clipboard_sent" }
func (Error) Type() string             { return "error" }

func (DeviceDiscovered) serviceEvent()  {}
func (DeviceLost) serviceEvent()        {}
func (PairingRequest) serviceEvent()    {}
func (ClipboardReceived) serviceEvent() {}
func (ClipboardSent) serviceEvent()     {}
func (Error) serviceEvent()             {}
