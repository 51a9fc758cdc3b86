package service

import (
	"context"
	"fmt"
	"time"

	"omniclip/internal/errs"
	"omniclip/internal/protocol"
	"omniclip/internal/transport"
)

const DefaultSendTimeout = 10 * time.Second

// Sender delivers one ClipboardSync to the device listening at addr.
type Sender interface {
	Send(ctx context.Context, addr string, msg *protocol.ClipboardSync) error
}

// DialSender opens a fresh connection per message and waits for the Ack.
type DialSender struct {
	Timeout time.Duration
}

func (d DialSender) Send(ctx context.Context, addr string, msg *protocol.ClipboardSync) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	if err := conn.Send(msg); err != nil {
		return err
	}
	reply, err := conn.Recv()
	if err != nil {
		return err
	}
	ack, ok := reply.(*protocol.Ack)
	if !ok {
		return fmt.Errorf("%w: expected Ack, got %s", errs.ErrInvalidMessage, reply.Kind())
	}
	if ack.MessageID != msg.MessageID {
		return fmt.Errorf("%w: Ack for %s, want %s", errs.ErrInvalidMessage, ack.MessageID, msg.MessageID)
	}
	return nil
}
