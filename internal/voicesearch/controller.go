// Package voicesearch drives one record → gate → recognize → reconcile attempt at a time
// and reports results or failures to subscribers.
package voicesearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/fsm"
	"github.com/rbright/songscout/internal/recording"
)

const (
	DefaultMinDuration        = 3 * time.Second
	DefaultMaxDuration        = 30 * time.Second
	DefaultRecognitionTimeout = 25 * time.Second

	// settleGrace lets a recognizer that honors its deadline report what it has
	// (for example a synthesized fallback) before the controller gives up on it.
	settleGrace = 250 * time.Millisecond
)

// Recorder is the microphone session consumed by the controller.
type Recorder interface {
	Start(context.Context) error
	Stop(context.Context) (*recording.Sample, error)
	Reset()
	Subscribe(func(recording.State)) func()
}

// Recognizer turns a sample into ranked tracks. An empty slice means no match.
type Recognizer interface {
	Recognize(context.Context, *recording.Sample) ([]catalog.Track, error)
}

// Snapshot is the immutable view published to subscribers.
type Snapshot struct {
	State    fsm.State
	Duration time.Duration
	Error    string
}

// Options configures a Controller; zero values select defaults.
type Options struct {
	Logger             *slog.Logger
	MinDuration        time.Duration
	MaxDuration        time.Duration
	RecognitionTimeout time.Duration
	Metrics            *Metrics
	OnResults          func([]catalog.Track)
	OnError            func(*Failure)
}

// Controller owns the voice-search state machine.
type Controller struct {
	recorder   Recorder
	recognizer Recognizer
	logger     *slog.Logger
	minimum    time.Duration
	maximum    time.Duration
	timeout    time.Duration
	metrics    *Metrics
	onResults  func([]catalog.Track)
	onError    func(*Failure)

	// lifecycle serializes recorder teardown against a new Start.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    fsm.State
	duration time.Duration
	lastErr  string
	gen      uint64
	cancel   context.CancelFunc
	subs     map[int]func(Snapshot)
	nextSub  int

	unsubscribe func()
}

func NewController(recorder Recorder, recognizer Recognizer, opts Options) *Controller {
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.RecognitionTimeout <= 0 {
		opts.RecognitionTimeout = DefaultRecognitionTimeout
	}

	c := &Controller{
		recorder:   recorder,
		recognizer: recognizer,
		logger:     opts.Logger,
		minimum:    opts.MinDuration,
		maximum:    opts.MaxDuration,
		timeout:    opts.RecognitionTimeout,
		metrics:    opts.Metrics,
		onResults:  opts.OnResults,
		onError:    opts.OnError,
		state:      fsm.StateIdle,
		subs:       make(map[int]func(Snapshot)),
	}
	c.unsubscribe = recorder.Subscribe(c.onRecorderState)
	return c
}

// Close detaches the controller from its recorder.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current FSM state.
func (c *Controller) State() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every published snapshot and returns its unsubscribe func.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Start begins recording. Failures are reported through OnError and returned as *Failure.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	c.mu.Lock()
	next, err := fsm.Transition(c.state, fsm.EventStart)
	if err != nil {
		state := c.state
		c.mu.Unlock()
		c.lifecycle.Unlock()
		return fmt.Errorf("%w (state %s)", ErrBusy, state)
	}
	c.gen++
	gen := c.gen
	c.duration = 0
	c.lastErr = ""
	publish := c.setLocked(next)
	c.mu.Unlock()
	c.lifecycle.Unlock()
	publish()

	if err := c.recorder.Start(ctx); err != nil {
		if errors.Is(err, recording.ErrAborted) || c.stale(gen) {
			return ErrCancelled
		}
		failure := startFailure(err)
		c.resetRecorder(gen)
		if _, err := c.settle(ctx, gen, Outcome{Failure: failure}); err != nil {
			return err
		}
		return failure
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrCancelled
	}
	next, err = fsm.Transition(c.state, fsm.EventReady)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	publish = c.setLocked(next)
	c.mu.Unlock()
	publish()

	c.logInfo("voice search recording")
	return nil
}

// Stop ends recording and runs recognition. The returned error is only ever
// ErrNotRecording or ErrCancelled; every other result is described by the Outcome.
// The sample is released and the recorder reset before Stop returns, including when
// a collaborator panics.
func (c *Controller) Stop(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.state != fsm.StateRecording {
		c.mu.Unlock()
		return Outcome{}, ErrNotRecording
	}
	next, err := fsm.Transition(c.state, fsm.EventStop)
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	gen := c.gen
	procCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	publish := c.setLocked(next)
	c.mu.Unlock()
	publish()
	defer cancel()

	var sample *recording.Sample
	cleaned := false
	cleanup := func() {
		if cleaned {
			return
		}
		cleaned = true
		if sample != nil {
			if err := sample.Release(); err != nil {
				c.logWarn("release sample failed", err)
			}
		}
		c.resetRecorder(gen)
	}
	defer func() {
		if r := recover(); r != nil {
			cleanup()
			c.abandon(gen)
			panic(r)
		}
	}()

	outcome, err := c.process(procCtx, gen, &sample)
	cleanup()
	if err != nil {
		c.abandon(gen)
		return Outcome{}, err
	}
	return c.settle(ctx, gen, outcome)
}

// process captures the sample and classifies the attempt. It returns ErrCancelled
// when the attempt went stale or the caller gave up.
func (c *Controller) process(ctx context.Context, gen uint64, sample **recording.Sample) (Outcome, error) {
	captured, err := c.recorder.Stop(ctx)
	if err != nil {
		if errors.Is(err, recording.ErrAborted) || c.stale(gen) || ctx.Err() != nil {
			return Outcome{}, ErrCancelled
		}
		return Outcome{Failure: &Failure{Reason: ReasonHardwareFailure, Message: msgHardwareStop, Err: err}}, nil
	}
	*sample = captured

	recorded := captured.Duration
	c.metrics.recordSample(ctx, recorded)
	c.logInfo("voice search sample captured", "duration_ms", recorded.Milliseconds())

	switch {
	case recorded < c.minimum:
		return Outcome{Failure: &Failure{Reason: ReasonTooShort, Message: fmt.Sprintf(fmtTooShort, c.minimum.Seconds())}}, nil
	case recorded > c.maximum:
		return Outcome{Failure: &Failure{Reason: ReasonTooLong, Message: fmt.Sprintf(fmtTooLong, c.maximum.Seconds())}}, nil
	}

	started := time.Now()
	tracks, err := c.recognize(ctx, captured)
	c.metrics.recordRecognition(ctx, time.Since(started), err == nil)

	if c.stale(gen) || ctx.Err() != nil {
		return Outcome{}, ErrCancelled
	}
	if err != nil {
		message := msgRecognition
		if errors.Is(err, context.DeadlineExceeded) {
			message = msgRecognitionTime
		}
		return Outcome{Failure: &Failure{Reason: ReasonRecognitionFailed, Message: message, Err: err}}, nil
	}
	if len(tracks) == 0 {
		return Outcome{Failure: &Failure{Reason: ReasonNoMatch, Message: msgNoMatch}}, nil
	}
	return Outcome{Tracks: tracks}, nil
}

type recognitionResult struct {
	tracks   []catalog.Track
	err      error
	panicked any
}

// recognize hands the recognizer a ctx bounded by the recognition budget and stops
// waiting shortly after that budget even when the recognizer ignores cancellation.
// A recognizer that outlives the wait finishes in the background and its result is
// dropped. A recognizer panic resurfaces on the calling goroutine.
func (c *Controller) recognize(ctx context.Context, sample *recording.Sample) ([]catalog.Track, error) {
	recCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan recognitionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- recognitionResult{panicked: r}
			}
		}()
		tracks, err := c.recognizer.Recognize(recCtx, sample)
		done <- recognitionResult{tracks: tracks, err: err}
	}()

	watchdog := time.NewTimer(c.timeout + settleGrace)
	defer watchdog.Stop()

	select {
	case res := <-done:
		if res.panicked != nil {
			panic(res.panicked)
		}
		return res.tracks, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-watchdog.C:
		return nil, context.DeadlineExceeded
	}
}

// Reset abandons any attempt in progress and returns to idle. Late results from the
// abandoned attempt are discarded.
func (c *Controller) Reset() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	c.gen++
	cancel := c.cancel
	c.cancel = nil
	c.duration = 0
	c.lastErr = ""
	var publish func()
	if c.state != fsm.StateIdle {
		next, err := fsm.Transition(c.state, fsm.EventReset)
		if err == nil {
			publish = c.setLocked(next)
		}
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.recorder.Reset()
	if publish != nil {
		publish()
	}
}

// Toggle starts from idle or stops from recording. A stop's outcome is reported only
// through callbacks.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.State() {
	case fsm.StateIdle:
		return c.Start(ctx)
	case fsm.StateRecording:
		_, err := c.Stop(ctx)
		return err
	default:
		return fmt.Errorf("%w (state %s)", ErrBusy, c.State())
	}
}

// settle moves a current attempt through delivered/failed back to idle, then
// notifies callbacks.
func (c *Controller) settle(ctx context.Context, gen uint64, outcome Outcome) (Outcome, error) {
	event := fsm.EventDeliver
	if outcome.Failure != nil {
		event = fsm.EventFail
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return Outcome{}, ErrCancelled
	}
	var publishes []func()
	if next, err := fsm.Transition(c.state, event); err == nil {
		if outcome.Failure != nil {
			c.lastErr = outcome.Failure.Message
		}
		publishes = append(publishes, c.setLocked(next))
	}
	if next, err := fsm.Transition(c.state, fsm.EventAcknowledge); err == nil {
		publishes = append(publishes, c.setLocked(next))
	}
	c.cancel = nil
	c.mu.Unlock()

	for _, publish := range publishes {
		publish()
	}

	if outcome.Failure != nil {
		c.metrics.recordOutcome(ctx, string(outcome.Failure.Reason))
		c.logFailure(outcome.Failure)
		if c.onError != nil {
			c.onError(outcome.Failure)
		}
		return outcome, nil
	}

	c.metrics.recordOutcome(ctx, "delivered")
	c.logInfo("voice search delivered", "tracks", len(outcome.Tracks), "best", outcome.Tracks[0].ID)
	if c.onResults != nil {
		c.onResults(outcome.Tracks)
	}
	return outcome, nil
}

// abandon returns a still-current attempt to idle without reporting an outcome.
func (c *Controller) abandon(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.cancel = nil
	next, err := fsm.Transition(c.state, fsm.EventReset)
	if err != nil {
		c.mu.Unlock()
		return
	}
	publish := c.setLocked(next)
	c.mu.Unlock()
	publish()
}

// resetRecorder tears down the recorder unless a newer attempt already owns it.
func (c *Controller) resetRecorder(gen uint64) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stale(gen) {
		return
	}
	c.recorder.Reset()
}

func (c *Controller) onRecorderState(state recording.State) {
	if state.Phase != recording.PhaseRecording {
		return
	}
	c.mu.Lock()
	if c.state != fsm.StateRecording || state.Duration == c.duration {
		c.mu.Unlock()
		return
	}
	c.duration = state.Duration
	publish := c.setLocked(c.state)
	c.mu.Unlock()
	publish()
}

func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Duration: c.duration}
	if c.state.Terminal() || c.state == fsm.StateIdle {
		snap.Error = c.lastErr
	}
	return snap
}

// setLocked applies next and returns a func that notifies subscribers.
// Callers must hold c.mu and invoke the returned func after unlocking.
func (c *Controller) setLocked(next fsm.State) func() {
	c.state = next
	snap := c.snapshotLocked()
	if len(c.subs) == 0 {
		return func() {}
	}
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(snap)
		}
	}
}

func startFailure(err error) *Failure {
	if errors.Is(err, recording.ErrPermissionDenied) {
		return &Failure{Reason: ReasonPermissionDenied, Message: msgPermissionDenied, Err: err}
	}
	return &Failure{Reason: ReasonHardwareFailure, Message: msgHardwareStart, Err: err}
}

func (c *Controller) logInfo(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, args...)
}

func (c *Controller) logWarn(msg string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, "error", err.Error())
}

func (c *Controller) logFailure(failure *Failure) {
	if c.logger == nil {
		return
	}
	args := []any{"reason", string(failure.Reason), "message", failure.Message}
	if failure.Err != nil {
		args = append(args, "error", failure.Err.Error())
	}
	if failure.Reason == ReasonNoMatch {
		c.logger.Info("voice search found no match", args...)
		return
	}
	c.logger.Warn("voice search failed", args...)
}
