package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/rbright/songscout/internal/recording"
)

// Microphone implements recording.Microphone on top of PulseAudio.
//
// Permission is granted when the input/fallback preference resolves to a source
// that is available and unmuted. The chosen source is reused by BeginCapture.
type Microphone struct {
	Input     string
	Fallback  string
	SampleDir string
	Logger    *slog.Logger

	// selectDevice is swapped in tests.
	selectDevice func(ctx context.Context, input string, fallback string) (Selection, error)
	start        func(ctx context.Context, device Device, dir string) (recording.Capture, error)

	mu       sync.Mutex
	selected *Device
}

// NewMicrophone builds a Pulse-backed microphone that writes samples under sampleDir.
func NewMicrophone(input string, fallback string, sampleDir string, logger *slog.Logger) *Microphone {
	return &Microphone{
		Input:     input,
		Fallback:  fallback,
		SampleDir: sampleDir,
		Logger:    logger,
	}
}

func (m *Microphone) RequestPermission(ctx context.Context) (bool, error) {
	choose := m.selectDevice
	if choose == nil {
		choose = SelectDevice
	}

	selection, err := choose(ctx, m.Input, m.Fallback)
	if err != nil {
		m.mu.Lock()
		m.selected = nil
		m.mu.Unlock()
		if errors.Is(err, ErrNoUsableDevice) {
			m.logWarn("microphone unavailable", err)
			return false, nil
		}
		return false, err
	}
	if selection.Warning != "" {
		m.logWarn(selection.Warning, nil)
	}

	m.mu.Lock()
	device := selection.Device
	m.selected = &device
	m.mu.Unlock()
	return true, nil
}

// ConfigureForCapture prepares the sample directory for the upcoming capture.
func (m *Microphone) ConfigureForCapture(context.Context) error {
	if m.SampleDir == "" {
		return errors.New("sample directory is not configured")
	}
	if err := os.MkdirAll(m.SampleDir, 0o700); err != nil {
		return fmt.Errorf("create sample dir: %w", err)
	}
	return nil
}

func (m *Microphone) BeginCapture(ctx context.Context) (recording.Capture, error) {
	selected, ok := m.selectedDevice()
	if !ok {
		return nil, errors.New("no input device selected")
	}

	if m.start != nil {
		return m.start(ctx, selected, m.SampleDir)
	}
	capture, err := startCapture(ctx, selected, m.SampleDir)
	if err != nil {
		return nil, err
	}
	if m.Logger == nil {
		return capture, nil
	}
	m.Logger.Info("audio capture started", "device", selected.ID, "description", selected.Description)
	return loggedCapture{Capture: capture, logger: m.Logger}, nil
}

// loggedCapture reports how much audio a capture produced when it is finalized.
type loggedCapture struct {
	*Capture
	logger *slog.Logger
}

func (c loggedCapture) Finalize(ctx context.Context) (string, error) {
	path, err := c.Capture.Finalize(ctx)
	args := []any{"device", c.Device().ID, "bytes", c.BytesCaptured()}
	if err != nil {
		c.logger.Warn("audio capture finalize failed", append(args, "error", err.Error())...)
		return path, err
	}
	c.logger.Info("audio capture finalized", append(args, "path", path)...)
	return path, nil
}

// selectedDevice returns the device chosen by the last successful permission request.
func (m *Microphone) selectedDevice() (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == nil {
		return Device{}, false
	}
	return *m.selected, true
}

func (m *Microphone) logWarn(message string, err error) {
	if m.Logger == nil {
		return
	}
	if err != nil {
		m.Logger.Warn(message, "error", err.Error())
		return
	}
	m.Logger.Warn(message)
}
