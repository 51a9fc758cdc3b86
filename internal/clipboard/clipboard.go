// Package clipboard reads and writes the local clipboard and watches it for
// changes.
package clipboard

import (
	"fmt"
	"sync"

	sysclip "github.com/atotto/clipboard"

	"omniclip/internal/errs"
	"omniclip/internal/protocol"
)

// Clipboard is the local clipboard. Read returns ok=false when it holds
// nothing usable.
type Clipboard interface {
	Read() (protocol.Content, bool, error)
	Write(protocol.Content) error
}

// System is the OS clipboard. Rich text is written as its plain part.
type System struct{}

func NewSystem() (*System, error) {
	if sysclip.Unsupported {
		return nil, fmt.Errorf("%w: no clipboard utility available on this system", errs.ErrClipboard)
	}
	return &System{}, nil
}

func (System) Read() (protocol.Content, bool, error) {
	text, err := sysclip.ReadAll()
	if err != nil {
		return protocol.Content{}, false, fmt.Errorf("%w: read: %v", errs.ErrClipboard, err)
	}
	if text == "" {
		return protocol.Content{}, false, nil
	}
	return protocol.Text(text), true, nil
}

func (System) Write(c protocol.Content) error {
	if err := sysclip.WriteAll(c.Plain); err != nil {
		return fmt.Errorf("%w: write: %v", errs.ErrClipboard, err)
	}
	return nil
}

// Memory is a process-local clipboard for headless hosts and tests.
type Memory struct {
	mu      sync.Mutex
	content protocol.Content
	set     bool
	writes  int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read() (protocol.Content, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set || m.content.IsEmpty() {
		return protocol.Content{}, false, nil
	}
	return m.content, true, nil
}

func (m *Memory) Write(c protocol.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = c
	m.set = true
	m.writes++
	return nil
}

func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
