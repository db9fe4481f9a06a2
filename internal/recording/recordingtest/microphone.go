// Package recordingtest provides in-memory microphone and clock fakes for tests.
package recordingtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbright/songscout/internal/recording"
)

// Microphone is a scriptable recording.Microphone that tracks hardware ownership.
type Microphone struct {
	Dir string

	Deny          bool
	PermissionErr error
	ConfigureErr  error
	BeginErr      error
	FinalizeErr   error

	// PermissionGate, when non-nil, blocks RequestPermission until closed.
	PermissionGate chan struct{}
	// BeginGate, when non-nil, blocks BeginCapture until closed.
	BeginGate chan struct{}
	// Entered receives a value each time RequestPermission or BeginCapture is entered.
	Entered chan string

	mu       sync.Mutex
	captures []*Capture
}

// Capture is one fake live capture.
type Capture struct {
	mic       *Microphone
	index     int
	released  int
	finalized bool
}

func (m *Microphone) RequestPermission(ctx context.Context) (bool, error) {
	m.enter("permission")
	if m.PermissionGate != nil {
		select {
		case <-m.PermissionGate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if m.PermissionErr != nil {
		return false, m.PermissionErr
	}
	return !m.Deny, nil
}

func (m *Microphone) ConfigureForCapture(context.Context) error {
	return m.ConfigureErr
}

func (m *Microphone) BeginCapture(ctx context.Context) (recording.Capture, error) {
	m.enter("begin")
	if m.BeginGate != nil {
		select {
		case <-m.BeginGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Capture{mic: m, index: len(m.captures)}
	m.captures = append(m.captures, c)
	return c, nil
}

// Captures reports how many captures were begun.
func (m *Microphone) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}

// Live reports captures that were begun but never released.
func (m *Microphone) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := 0
	for _, c := range m.captures {
		if c.released == 0 {
			live++
		}
	}
	return live
}

// OverReleased reports captures whose hardware was released more than once.
func (m *Microphone) OverReleased() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.captures {
		if c.released > 1 {
			count++
		}
	}
	return count
}

func (m *Microphone) enter(stage string) {
	if m.Entered == nil {
		return
	}
	select {
	case m.Entered <- stage:
	default:
	}
}

func (c *Capture) Finalize(context.Context) (string, error) {
	c.mic.mu.Lock()
	defer c.mic.mu.Unlock()

	if c.finalized || c.released > 0 {
		return "", errors.New("capture already closed")
	}
	if c.mic.FinalizeErr != nil {
		return "", c.mic.FinalizeErr
	}

	dir := c.mic.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("sample-%d.wav", c.index))
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		return "", err
	}
	c.finalized = true
	c.released++
	return path, nil
}

func (c *Capture) Discard() error {
	c.mic.mu.Lock()
	defer c.mic.mu.Unlock()
	if c.finalized {
		return nil
	}
	c.released++
	return nil
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
