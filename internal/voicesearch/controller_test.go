package voicesearch

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/fsm"
	"github.com/rbright/songscout/internal/recording"
	"github.com/rbright/songscout/internal/recording/recordingtest"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	mu      sync.Mutex
	calls   int
	samples []*recording.Sample

	tracks     []catalog.Track
	err        error
	gate       chan struct{}
	respectCtx bool
	entered    chan struct{}
	panicWith  any
}

func (f *fakeRecognizer) Recognize(ctx context.Context, sample *recording.Sample) ([]catalog.Track, error) {
	f.mu.Lock()
	f.calls++
	f.samples = append(f.samples, sample)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.gate != nil {
		if f.respectCtx {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-f.gate
		}
	}
	return f.tracks, f.err
}

func (f *fakeRecognizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	ctrl       *Controller
	mic        *recordingtest.Microphone
	clock      *recordingtest.Clock
	recognizer *fakeRecognizer

	mu       sync.Mutex
	results  [][]catalog.Track
	failures []*Failure
}

func newHarness(t *testing.T, recognizer *fakeRecognizer, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		mic:        &recordingtest.Microphone{Dir: t.TempDir(), Entered: make(chan string, 8)},
		clock:      recordingtest.NewClock(),
		recognizer: recognizer,
	}
	session := recording.NewSession(h.mic, recording.Options{TickInterval: 5 * time.Millisecond, Now: h.clock.Now})

	opts := Options{
		OnResults: func(tracks []catalog.Track) {
			h.mu.Lock()
			h.results = append(h.results, tracks)
			h.mu.Unlock()
		},
		OnError: func(f *Failure) {
			h.mu.Lock()
			h.failures = append(h.failures, f)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.ctrl = NewController(session, recognizer, opts)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) record(t *testing.T, length time.Duration) (Outcome, error) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	h.clock.Advance(length)
	return h.ctrl.Stop(context.Background())
}

func (h *harness) callbacks() ([][]catalog.Track, []*Failure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]catalog.Track(nil), h.results...), append([]*Failure(nil), h.failures...)
}

func (h *harness) requireReleased(t *testing.T) {
	t.Helper()
	require.Equal(t, 0, h.mic.Live(), "hardware capture still live")
	require.Equal(t, 0, h.mic.OverReleased(), "hardware capture released twice")
	entries, err := os.ReadDir(h.mic.Dir)
	require.NoError(t, err)
	require.Empty(t, entries, "sample artifacts left behind")
}

func waitForState(t *testing.T, ctrl *Controller, desired fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State() == desired {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", desired, ctrl.State())
}

func tracks(ids ...string) []catalog.Track {
	out := make([]catalog.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog.Track{ID: id, Name: "Track " + id})
	}
	return out
}

func TestStopDeliversTracks(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{tracks: tracks("a", "b")}, nil)

	outcome, err := h.record(t, 8*time.Second)
	require.NoError(t, err)
	require.True(t, outcome.Delivered())
	require.Nil(t, outcome.Failure)
	require.Equal(t, tracks("a", "b"), outcome.Tracks)

	results, failures := h.callbacks()
	require.Equal(t, [][]catalog.Track{tracks("a", "b")}, results)
	require.Empty(t, failures)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Equal(t, 8*time.Second, h.recognizer.samples[0].Duration)
	h.requireReleased(t)
}

func TestDurationGate(t *testing.T) {
	tests := []struct {
		name   string
		length time.Duration
		reason Reason
	}{
		{name: "far too short", length: 500 * time.Millisecond, reason: ReasonTooShort},
		{name: "just under minimum", length: 2999 * time.Millisecond, reason: ReasonTooShort},
		{name: "exact minimum", length: 3 * time.Second},
		{name: "mid range", length: 12 * time.Second},
		{name: "exact maximum", length: 30 * time.Second},
		{name: "just over maximum", length: 30001 * time.Millisecond, reason: ReasonTooLong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &fakeRecognizer{tracks: tracks("a")}, nil)

			outcome, err := h.record(t, tc.length)
			require.NoError(t, err)

			if tc.reason == "" {
				require.True(t, outcome.Delivered())
				require.Equal(t, 1, h.recognizer.Calls())
			} else {
				require.NotNil(t, outcome.Failure)
				require.Equal(t, tc.reason, outcome.Failure.Reason)
				require.Zero(t, h.recognizer.Calls(), "gated recordings must not reach the network")
				_, failures := h.callbacks()
				require.Len(t, failures, 1)
			}
			require.Equal(t, fsm.StateIdle, h.ctrl.State())
			h.requireReleased(t)
		})
	}
}

func TestDurationGateMessages(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{}, nil)

	outcome, err := h.record(t, time.Second)
	require.NoError(t, err)
	require.Equal(t, "Recording too short. Please record for at least 3 seconds.", outcome.Failure.Message)

	outcome, err = h.record(t, 31*time.Second)
	require.NoError(t, err)
	require.Equal(t, "Recording too long. Please keep recordings under 30 seconds.", outcome.Failure.Message)
	require.Equal(t, outcome.Failure.Message, h.ctrl.Snapshot().Error)
}

func TestCustomDurationBounds(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{tracks: tracks("a")}, func(o *Options) {
		o.MinDuration = time.Second
		o.MaxDuration = 5 * time.Second
	})

	outcome, err := h.record(t, 1500*time.Millisecond)
	require.NoError(t, err)
	require.True(t, outcome.Delivered())

	outcome, err = h.record(t, 6*time.Second)
	require.NoError(t, err)
	require.Equal(t, ReasonTooLong, outcome.Failure.Reason)
}

func TestNoMatchIsNotRecognitionFailure(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{tracks: []catalog.Track{}}, nil)

	outcome, err := h.record(t, 6*time.Second)
	require.NoError(t, err)
	require.NotNil(t, outcome.Failure)
	require.Equal(t, ReasonNoMatch, outcome.Failure.Reason)
	require.Equal(t, "No song detected. Try recording again with clearer audio.", outcome.Failure.Message)
	require.NoError(t, outcome.Failure.Err)

	results, failures := h.callbacks()
	require.Empty(t, results)
	require.Len(t, failures, 1)
	require.Equal(t, ReasonNoMatch, failures[0].Reason)
	h.requireReleased(t)
}

func TestRecognitionFailure(t *testing.T) {
	cause := errors.New("recognition failed: upload: status 500")
	h := newHarness(t, &fakeRecognizer{err: cause}, nil)

	outcome, err := h.record(t, 6*time.Second)
	require.NoError(t, err)
	require.Equal(t, ReasonRecognitionFailed, outcome.Failure.Reason)
	require.ErrorIs(t, outcome.Failure, cause)
	require.Contains(t, outcome.Failure.Error(), "status 500")
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireReleased(t)
}

func TestRecognitionTimeout(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{gate: make(chan struct{}), respectCtx: true}, func(o *Options) {
		o.RecognitionTimeout = 30 * time.Millisecond
	})

	outcome, err := h.record(t, 6*time.Second)
	require.NoError(t, err)
	require.Equal(t, ReasonRecognitionFailed, outcome.Failure.Reason)
	require.Equal(t, "Recognition timed out. Check your connection and try again.", outcome.Failure.Message)
	require.ErrorIs(t, outcome.Failure, context.DeadlineExceeded)
	h.requireReleased(t)
}

func TestRecognitionTimeoutWithRecognizerIgnoringContext(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	h := newHarness(t, &fakeRecognizer{tracks: tracks("late"), gate: gate}, func(o *Options) {
		o.RecognitionTimeout = 40 * time.Millisecond
	})

	started := time.Now()
	outcome, err := h.record(t, 6*time.Second)
	require.NoError(t, err)
	require.Less(t, time.Since(started), 2*time.Second)
	require.Equal(t, ReasonRecognitionFailed, outcome.Failure.Reason)
	require.Equal(t, "Recognition timed out. Check your connection and try again.", outcome.Failure.Message)
	require.ErrorIs(t, outcome.Failure, context.DeadlineExceeded)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	results, failures := h.callbacks()
	require.Empty(t, results)
	require.Len(t, failures, 1)
	h.requireReleased(t)
}

func TestResetClearsPreviousFailureMessage(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{err: errors.New("boom")}, nil)

	outcome, err := h.record(t, 6*time.Second)
	require.NoError(t, err)
	require.NotNil(t, outcome.Failure)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.NotEmpty(t, h.ctrl.Snapshot().Error)

	h.ctrl.Reset()
	require.Equal(t, Snapshot{State: fsm.StateIdle}, h.ctrl.Snapshot())
	h.requireReleased(t)
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{}, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	err := h.ctrl.Start(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	require.Equal(t, 1, h.mic.Captures())

	h.ctrl.Reset()
	h.requireReleased(t)
}

func TestStartWhileProcessingIsRejected(t *testing.T) {
	recognizer := &fakeRecognizer{tracks: tracks("a"), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	h := newHarness(t, recognizer, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(5 * time.Second)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := h.ctrl.Stop(context.Background())
		done <- outcome
	}()
	<-recognizer.entered

	require.ErrorIs(t, h.ctrl.Start(context.Background()), ErrBusy)
	require.ErrorIs(t, h.ctrl.Toggle(context.Background()), ErrBusy)
	_, err := h.ctrl.Stop(context.Background())
	require.ErrorIs(t, err, ErrNotRecording)

	close(recognizer.gate)
	require.True(t, (<-done).Delivered())
	require.Equal(t, 1, h.mic.Captures())
}

func TestStopWithoutRecording(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{}, nil)

	_, err := h.ctrl.Stop(context.Background())
	require.ErrorIs(t, err, ErrNotRecording)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{}, nil)
	h.mic.Deny = true

	err := h.ctrl.Start(context.Background())
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, ReasonPermissionDenied, failure.Reason)
	require.ErrorIs(t, err, recording.ErrPermissionDenied)

	_, failures := h.callbacks()
	require.Len(t, failures, 1)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Equal(t, failure.Message, h.ctrl.Snapshot().Error)

	h.mic.Deny = false
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Empty(t, h.ctrl.Snapshot().Error)
	h.ctrl.Reset()
}

func TestHardwareFailureOnStart(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{}, nil)
	h.mic.BeginErr = errors.New("device or resource busy")

	err := h.ctrl.Start(context.Background())
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, ReasonHardwareFailure, failure.Reason)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireReleased(t)
}

func TestHardwareFailureOnStop(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{tracks: tracks("a")}, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(5 * time.Second)
	h.mic.FinalizeErr = errors.New("encoder failed")

	outcome, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonHardwareFailure, outcome.Failure.Reason)
	require.Zero(t, h.recognizer.Calls())
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireReleased(t)
}

func TestResetDuringAcquiringIgnoresLatePermission(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{}, nil)
	h.mic.PermissionGate = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Start(context.Background()) }()

	require.Equal(t, "permission", <-h.mic.Entered)
	require.Equal(t, fsm.StateAcquiring, h.ctrl.State())

	h.ctrl.Reset()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	close(h.mic.PermissionGate)

	require.ErrorIs(t, <-errCh, ErrCancelled)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Zero(t, h.mic.Captures())

	_, failures := h.callbacks()
	require.Empty(t, failures)
}

func TestResetDuringBeginReleasesLateCapture(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{}, nil)
	h.mic.BeginGate = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Start(context.Background()) }()

	require.Equal(t, "permission", <-h.mic.Entered)
	require.Equal(t, "begin", <-h.mic.Entered)
	h.ctrl.Reset()
	close(h.mic.BeginGate)

	require.ErrorIs(t, <-errCh, ErrCancelled)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireReleased(t)
}

func TestResetDuringRecognitionDiscardsLateResult(t *testing.T) {
	recognizer := &fakeRecognizer{tracks: tracks("late"), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	h := newHarness(t, recognizer, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(5 * time.Second)

	type stopResult struct {
		outcome Outcome
		err     error
	}
	done := make(chan stopResult, 1)
	go func() {
		outcome, err := h.ctrl.Stop(context.Background())
		done <- stopResult{outcome, err}
	}()

	<-recognizer.entered
	require.Equal(t, fsm.StateProcessing, h.ctrl.State())
	h.ctrl.Reset()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	close(recognizer.gate)
	result := <-done
	require.ErrorIs(t, result.err, ErrCancelled)
	require.Empty(t, result.outcome.Tracks)

	results, failures := h.callbacks()
	require.Empty(t, results)
	require.Empty(t, failures)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireReleased(t)
}

func TestLateResultDoesNotDisturbNextAttempt(t *testing.T) {
	recognizer := &fakeRecognizer{tracks: tracks("late"), gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	h := newHarness(t, recognizer, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(5 * time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Stop(context.Background())
		done <- err
	}()
	<-recognizer.entered

	h.ctrl.Reset()
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Equal(t, fsm.StateRecording, h.ctrl.State())

	close(recognizer.gate)
	require.ErrorIs(t, <-done, ErrCancelled)

	require.Equal(t, fsm.StateRecording, h.ctrl.State())
	require.Equal(t, 1, h.mic.Live(), "the second capture must still be live")

	// The gate stays closed, so the next recognition passes straight through.
	h.clock.Advance(4 * time.Second)
	outcome, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)
	require.True(t, outcome.Delivered())
	h.requireReleased(t)
}

func TestCallerCancellationAbandonsAttempt(t *testing.T) {
	recognizer := &fakeRecognizer{gate: make(chan struct{}), respectCtx: true, entered: make(chan struct{}, 1)}
	h := newHarness(t, recognizer, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Stop(ctx)
		done <- err
	}()
	<-recognizer.entered
	cancel()

	require.ErrorIs(t, <-done, ErrCancelled)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	_, failures := h.callbacks()
	require.Empty(t, failures)
	h.requireReleased(t)
}

func TestPanicInRecognizerStillReleases(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{panicWith: "boom"}, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(5 * time.Second)

	require.PanicsWithValue(t, "boom", func() {
		_, _ = h.ctrl.Stop(context.Background())
	})
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireReleased(t)

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.Reset()
}

func TestResetFromEveryStateIsSafe(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{tracks: tracks("a")}, nil)

	h.ctrl.Reset()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.Reset()
	h.ctrl.Reset()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.requireReleased(t)
}

func TestToggle(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{tracks: tracks("a")}, nil)

	require.NoError(t, h.ctrl.Toggle(context.Background()))
	require.Equal(t, fsm.StateRecording, h.ctrl.State())

	h.clock.Advance(4 * time.Second)
	require.NoError(t, h.ctrl.Toggle(context.Background()))
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	results, _ := h.callbacks()
	require.Len(t, results, 1)
}

func TestSnapshotsFollowLifecycle(t *testing.T) {
	h := newHarness(t, &fakeRecognizer{tracks: tracks("a")}, nil)

	var mu sync.Mutex
	var states []fsm.State
	var lastRecording time.Duration
	unsubscribe := h.ctrl.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
		if s.State == fsm.StateRecording {
			lastRecording = s.Duration
		}
	})
	defer unsubscribe()

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(4 * time.Second)
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Duration == 4*time.Second
	}, 2*time.Second, 5*time.Millisecond)

	_, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []fsm.State{
		fsm.StateAcquiring,
		fsm.StateRecording,
		fsm.StateProcessing,
		fsm.StateDelivered,
		fsm.StateIdle,
	}, states)
	require.Equal(t, 4*time.Second, lastRecording)
}
