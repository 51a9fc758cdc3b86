package pairing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
	"omniclip/internal/protocol"
)

// Descriptor is what the QR code carries: enough for the scanning device to
// reach the offering device and run the exchange.
type Descriptor struct {
	SessionID uuid.UUID
	PublicKey crypto.PublicKey
	Host      string
	Port      int
	Name      string
}

// FieldError reports the first descriptor parameter that was missing or
// could not be parsed.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("pairing url: %s parameter %q", e.Reason, e.Field)
}

func (e *FieldError) Unwrap() error { return errs.ErrInvalidMessage }

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (d Descriptor) URL() string {
	var b strings.Builder
	b.WriteString(protocol.PairingScheme)
	b.WriteString("://")
	b.WriteString(protocol.PairingHost)
	b.WriteString("?s=")
	b.WriteString(d.SessionID.String())
	b.WriteString("&k=")
	b.WriteString(base64.RawURLEncoding.EncodeToString(d.PublicKey[:]))
	b.WriteString("&h=")
	b.WriteString(escape(d.Host))
	b.WriteString("&p=")
	b.WriteString(strconv.Itoa(d.Port))
	b.WriteString("&n=")
	b.WriteString(escape(d.Name))
	return b.String()
}

func (d Descriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// ParseURL is the inverse of URL. Unknown parameters are ignored; every
// known one is required.
func ParseURL(raw string) (Descriptor, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: pairing url: %v", errs.ErrInvalidMessage, err)
	}
	if u.Scheme != protocol.PairingScheme || u.Host != protocol.PairingHost {
		return Descriptor{}, fmt.Errorf("%w: not an %s://%s url", errs.ErrInvalidMessage, protocol.PairingScheme, protocol.PairingHost)
	}
	// ParseQuery keeps every pair it could decode; a malformed unknown
	// parameter must not sink the known ones.
	q, _ := url.ParseQuery(u.RawQuery)

	var d Descriptor

	s, err := param(q, "s")
	if err != nil {
		return Descriptor{}, err
	}
	if d.SessionID, err = uuid.Parse(s); err != nil {
		return Descriptor{}, &FieldError{Field: "s", Reason: "invalid"}
	}

	k, err := param(q, "k")
	if err != nil {
		return Descriptor{}, err
	}
	key, err := base64.RawURLEncoding.DecodeString(k)
	if err != nil || len(key) != len(d.PublicKey) {
		return Descriptor{}, &FieldError{Field: "k", Reason: "invalid"}
	}
	copy(d.PublicKey[:], key)

	if d.Host, err = param(q, "h"); err != nil {
		return Descriptor{}, err
	}
	if d.Host == "" {
		return Descriptor{}, &FieldError{Field: "h", Reason: "invalid"}
	}

	p, err := param(q, "p")
	if err != nil {
		return Descriptor{}, err
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil || port == 0 {
		return Descriptor{}, &FieldError{Field: "p", Reason: "invalid"}
	}
	d.Port = int(port)

	if d.Name, err = param(q, "n"); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func param(q url.Values, name string) (string, error) {
	if !q.Has(name) {
		return "", &FieldError{Field: name, Reason: "missing"}
	}
	return q.Get(name), nil
}

// IsFieldError reports whether err names a descriptor field, and which.
func IsFieldError(err error) (string, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field, true
	}
	return "", false
}
