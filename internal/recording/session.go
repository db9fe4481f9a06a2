// Package recording owns the microphone for one capture attempt: permission, capture
// configuration, the elapsed-time clock, and hand-off of the captured sample.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultTickInterval is the cadence of duration updates while recording.
const DefaultTickInterval = 100 * time.Millisecond

var (
	// ErrBusy indicates Start was called while a capture is acquiring, running, or stopping.
	ErrBusy = errors.New("microphone already in use")
	// ErrPermissionDenied indicates the microphone could not be opened for capture.
	ErrPermissionDenied = errors.New("microphone permission not granted")
	// ErrNotRecording indicates Stop was called without an active capture.
	ErrNotRecording = errors.New("no active recording")
	// ErrAborted indicates the session was reset while an operation was in flight.
	ErrAborted = errors.New("recording session was reset")
)

// HardwareError wraps capture start/stop failures reported by the microphone.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// Microphone is the capture device contract consumed by Session.
type Microphone interface {
	// RequestPermission may block until the user (or the audio server) answers.
	RequestPermission(context.Context) (bool, error)
	ConfigureForCapture(context.Context) error
	BeginCapture(context.Context) (Capture, error)
}

// Capture is one live hardware capture.
type Capture interface {
	// Finalize stops capture, releases the hardware, and returns the sample URI.
	Finalize(context.Context) (string, error)
	// Discard releases the hardware and drops anything captured so far.
	Discard() error
}

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAcquiring Phase = "acquiring"
	PhaseRecording Phase = "recording"
	PhaseStopping  Phase = "stopping"
	PhaseError     Phase = "error"
)

// State is an immutable snapshot of the session. A new value is published on every change.
type State struct {
	Phase    Phase
	Duration time.Duration
	Err      string
	Sample   *Sample
}

// DurationSeconds reports the elapsed capture time in seconds.
func (s State) DurationSeconds() float64 {
	return s.Duration.Seconds()
}

// Options tunes Session behavior; zero values select defaults.
type Options struct {
	Logger       *slog.Logger
	TickInterval time.Duration
	Now          func() time.Time
	// ReleaseSample disposes of a finalized sample artifact. Defaults to deleting the file.
	ReleaseSample func(uri string) error
}

// Session manages the exclusive microphone resource.
type Session struct {
	mic           Microphone
	logger        *slog.Logger
	tick          time.Duration
	now           func() time.Time
	releaseSample func(string) error

	mu        sync.Mutex
	state     State
	gen       uint64
	capture   Capture
	startedAt time.Time
	clock     *ticker
	subs      map[int]func(State)
	nextSub   int
}

// NewSession constructs an idle session bound to mic.
func NewSession(mic Microphone, opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReleaseSample == nil {
		opts.ReleaseSample = removeSampleFile
	}
	return &Session{
		mic:           mic,
		logger:        opts.Logger,
		tick:          opts.TickInterval,
		now:           opts.Now,
		releaseSample: opts.ReleaseSample,
		state:         State{Phase: PhaseIdle},
		subs:          make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every published snapshot and returns its unsubscribe func.
// Callbacks run outside the session lock but must not block.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Start acquires the microphone and begins capture.
//
// A nil error means the session is recording. If Reset runs while Start is
// suspended, Start returns ErrAborted and releases anything it acquired.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state.Phase {
	case PhaseAcquiring, PhaseRecording, PhaseStopping:
		s.mu.Unlock()
		return ErrBusy
	}
	prior := s.state.Sample
	s.gen++
	gen := s.gen
	publish := s.setLocked(State{Phase: PhaseAcquiring})
	s.mu.Unlock()
	publish()

	if prior != nil {
		if err := prior.Release(); err != nil {
			s.logWarn("release previous sample failed", err)
		}
	}

	granted, err := s.mic.RequestPermission(ctx)
	if err != nil {
		return s.fail(gen, &HardwareError{Op: "request microphone permission", Err: err})
	}
	if !granted {
		return s.fail(gen, ErrPermissionDenied)
	}
	if s.stale(gen) {
		return ErrAborted
	}

	if err := s.mic.ConfigureForCapture(ctx); err != nil {
		return s.fail(gen, &HardwareError{Op: "configure audio capture", Err: err})
	}
	if s.stale(gen) {
		return ErrAborted
	}

	capture, err := s.mic.BeginCapture(ctx)
	if err != nil {
		return s.fail(gen, &HardwareError{Op: "begin capture", Err: err})
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.discard(capture)
		return ErrAborted
	}
	s.capture = capture
	s.startedAt = s.now()
	s.clock = startTicker(s.tick, func() { s.onTick(gen) })
	publish = s.setLocked(State{Phase: PhaseRecording})
	s.mu.Unlock()
	publish()
	return nil
}

// Stop finalizes the active capture and hands the sample to the caller.
func (s *Session) Stop(ctx context.Context) (*Sample, error) {
	s.mu.Lock()
	if s.state.Phase != PhaseRecording || s.capture == nil {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	gen := s.gen
	capture := s.capture
	s.capture = nil
	s.clock.Stop()
	s.clock = nil
	duration := s.now().Sub(s.startedAt)
	publish := s.setLocked(State{Phase: PhaseStopping, Duration: duration})
	s.mu.Unlock()
	publish()

	uri, err := capture.Finalize(ctx)
	if err != nil {
		s.discard(capture)
		return nil, s.fail(gen, &HardwareError{Op: "finalize capture", Err: err})
	}

	sample := newSample(uri, duration, s.releaseSample)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = sample.Release()
		return nil, ErrAborted
	}
	publish = s.setLocked(State{Phase: PhaseIdle, Duration: duration, Sample: sample})
	s.mu.Unlock()
	publish()
	return sample, nil
}

// Reset tears down any live capture, clock, and sample and returns to idle.
// It is safe to call from any phase, any number of times.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	s.clock.Stop()
	s.clock = nil
	capture := s.capture
	s.capture = nil
	sample := s.state.Sample
	publish := s.setLocked(State{Phase: PhaseIdle})
	s.mu.Unlock()
	publish()

	if capture != nil {
		s.discard(capture)
	}
	if sample != nil {
		if err := sample.Release(); err != nil {
			s.logWarn("release sample failed", err)
		}
	}
}

// onTick refreshes the elapsed duration for the capture identified by gen.
func (s *Session) onTick(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state.Phase != PhaseRecording {
		s.mu.Unlock()
		return
	}
	publish := s.setLocked(State{Phase: PhaseRecording, Duration: s.now().Sub(s.startedAt)})
	s.mu.Unlock()
	publish()
}

// fail moves a still-current session into the error phase and returns err.
func (s *Session) fail(gen uint64, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrAborted
	}
	s.clock.Stop()
	s.clock = nil
	publish := s.setLocked(State{Phase: PhaseError, Err: err.Error()})
	s.mu.Unlock()
	publish()
	return err
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// setLocked replaces the state and returns a func that notifies subscribers.
// Callers must hold s.mu and invoke the returned func after unlocking.
func (s *Session) setLocked(next State) func() {
	s.state = next
	if len(s.subs) == 0 {
		return func() {}
	}
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(next)
		}
	}
}

func (s *Session) discard(capture Capture) {
	if err := capture.Discard(); err != nil {
		s.logWarn("discard capture failed", err)
	}
}

func (s *Session) logWarn(message string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(message, "error", err.Error())
}

// clockRunning reports whether a duration ticker is currently owned by the session.
func (s *Session) clockRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock != nil
}

func removeSampleFile(uri string) error {
	if uri == "" {
		return nil
	}
	if err := os.Remove(uri); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
