// Package errs holds the error kinds shared across omniclip. Call sites wrap
// one of the sentinels with fmt.Errorf("%w: ...") and callers classify with
// errors.Is.
package errs

import "errors"

var (
	ErrCrypto         = errors.New("crypto error")
	ErrSerialization  = errors.New("serialization error")
	ErrNetwork        = errors.New("network error")
	ErrDiscovery      = errors.New("discovery error")
	ErrClipboard      = errors.New("clipboard error")
	ErrInvalidMessage = errors.New("invalid message")
	ErrNotPaired      = errors.New("device not paired")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrCrypto, "crypto"},
	{ErrSerialization, "serialization"},
	{ErrNetwork, "network"},
	{ErrDiscovery, "discovery"},
	{ErrClipboard, "clipboard"},
	{ErrInvalidMessage, "invalid_message"},
	{ErrNotPaired, "not_paired"},
}

// Kind returns a short name for the first kind err wraps, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
