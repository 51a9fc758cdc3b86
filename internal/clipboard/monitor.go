package clipboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"omniclip/internal/logging"
	"omniclip/internal/protocol"
)

const ChangeBuffer = 16

type Change struct {
	Content protocol.Content
	Hash    protocol.ContentHash
}

// Monitor polls a Clipboard and reports content it has not seen before.
type Monitor struct {
	cb       Clipboard
	interval time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	last protocol.ContentHash
}

func NewMonitor(cb Clipboard, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = protocol.DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitor{cb: cb, interval: interval, log: logger.With("component", "clipboard")}
}

// Observe marks h as already seen, so content we wrote ourselves is not
// reported back as a local change.
func (m *Monitor) Observe(h protocol.ContentHash) {
	m.mu.Lock()
	m.last = h
	m.mu.Unlock()
}

// Start polls until ctx is done. Whatever is on the clipboard at start is
// treated as seen. The channel is closed when polling stops.
func (m *Monitor) Start(ctx context.Context) <-chan Change {
	out := make(chan Change, ChangeBuffer)

	if c, ok, err := m.cb.Read(); err == nil && ok {
		m.Observe(c.Hash())
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			change, ok := m.poll()
			if !ok {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Apply writes content to the clipboard and marks it as seen in one step,
// so a concurrent poll cannot report it.
func (m *Monitor) Apply(c protocol.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cb.Write(c); err != nil {
		return err
	}
	m.last = c.Hash()
	return nil
}

func (m *Monitor) poll() (Change, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok, err := m.cb.Read()
	if err != nil {
		m.log.Warn("clipboard read error", "err", err)
		return Change{}, false
	}
	if !ok {
		return Change{}, false
	}
	h := content.Hash()
	if h == m.last {
		return Change{}, false
	}
	m.last = h
	return Change{Content: content, Hash: h}, true
}
