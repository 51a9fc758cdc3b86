// Package protocol defines the omniclip wire format: the message set, the
// clipboard content encoding and length-prefixed framing.
package protocol

import (
	"time"

	"omniclip/internal/crypto"
)

const (
	DefaultPort         = 17394
	ServiceType         = "_omniclip._tcp"
	ServiceDomain       = "local."
	PairingScheme       = "omniclip"
	PairingHost         = "pair"
	SessionKeyInfo      = crypto.SessionKeyInfo
	MaxMessageSize      = 10 * 1024 * 1024
	ProtocolVersion     = 1
	DefaultPollInterval = 500 * time.Millisecond
)
