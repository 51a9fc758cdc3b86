package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"omniclip/internal/errs"
)

const headerSize = 4

// WriteFrame writes a 4-byte big-endian length followed by payload in a
// single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf(
			"%w: message too large: %d bytes (max %d)",
			errs.ErrInvalidMessage,
			len(payload),
			MaxMessageSize,
		)
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("%w: write frame: %v", errs.ErrNetwork, err)
	}
	return nil
}

// ReadFrame reads one frame. The declared length is checked against
// MaxMessageSize before any payload buffer is allocated.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", errs.ErrNetwork, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > MaxMessageSize {
		return nil, fmt.Errorf(
			"%w: message too large: %d bytes (max %d)",
			errs.ErrInvalidMessage,
			n,
			MaxMessageSize,
		)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: read payload: %w", errs.ErrNetwork, err)
	}
	return payload, nil
}

func WriteMessage(w io.Writer, msg Message) error {
	payload, err := Marshal(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

func ReadMessage(r io.Reader) (Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}
