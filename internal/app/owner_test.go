package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/fsm"
	"github.com/rbright/songscout/internal/ipc"
	"github.com/rbright/songscout/internal/recording"
	"github.com/rbright/songscout/internal/recording/recordingtest"
	"github.com/rbright/songscout/internal/voicesearch"
	"github.com/stretchr/testify/require"
)

type recognizerFunc func(context.Context, *recording.Sample) ([]catalog.Track, error)

func (f recognizerFunc) Recognize(ctx context.Context, sample *recording.Sample) ([]catalog.Track, error) {
	return f(ctx, sample)
}

func matched(context.Context, *recording.Sample) ([]catalog.Track, error) {
	return []catalog.Track{{ID: "t1", Name: "Found"}}, nil
}

type ownerHarness struct {
	owner *owner
	ctrl  *voicesearch.Controller
	mic   *recordingtest.Microphone
	clock *recordingtest.Clock
}

func newOwnerHarness(t *testing.T, recognizer voicesearch.Recognizer) *ownerHarness {
	t.Helper()
	h := &ownerHarness{
		mic:   &recordingtest.Microphone{Dir: t.TempDir()},
		clock: recordingtest.NewClock(),
	}
	session := recording.NewSession(h.mic, recording.Options{TickInterval: 5 * time.Millisecond, Now: h.clock.Now})
	h.ctrl = voicesearch.NewController(session, recognizer, voicesearch.Options{
		MinDuration: 500 * time.Millisecond,
		MaxDuration: 5 * time.Second,
	})
	t.Cleanup(h.ctrl.Close)
	h.owner = newOwner(h.ctrl, nil, 5*time.Second)
	return h
}

func (h *ownerHarness) run(ctx context.Context) <-chan ownerResult {
	done := make(chan ownerResult, 1)
	go func() { done <- h.owner.Run(ctx) }()
	return done
}

func (h *ownerHarness) waitFor(t *testing.T, state fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == state }, 2*time.Second, 2*time.Millisecond)
}

func awaitResult(t *testing.T, done <-chan ownerResult) ownerResult {
	t.Helper()
	select {
	case result := <-done:
		return result
	case <-time.After(3 * time.Second):
		t.Fatal("owner did not finish")
		return ownerResult{}
	}
}

func TestOwnerStopDeliversTracks(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))
	done := h.run(context.Background())
	h.waitFor(t, fsm.StateRecording)

	h.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		resp := h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
		return resp.OK && resp.State == "recording" && resp.DurationSeconds >= 2
	}, 2*time.Second, 2*time.Millisecond)

	resp := h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stop requested", resp.Message)

	result := awaitResult(t, done)
	require.NoError(t, result.Err)
	require.False(t, result.Cancelled)
	require.False(t, result.AutoStop)
	require.True(t, result.Outcome.Delivered())
	require.Equal(t, "t1", result.Outcome.Tracks[0].ID)
	require.Equal(t, fsm.StateIdle, result.State)
	require.Zero(t, h.mic.Live())

	resp = h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "cannot stop while idle")
}

func TestOwnerAutoStopsBeforeDurationCap(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))
	done := h.run(context.Background())
	h.waitFor(t, fsm.StateRecording)

	h.clock.Advance(4800 * time.Millisecond)

	result := awaitResult(t, done)
	require.True(t, result.AutoStop)
	require.True(t, result.Outcome.Delivered(), "%+v", result.Outcome.Failure)
}

func TestOwnerReportsTooShortFailure(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))
	done := h.run(context.Background())
	h.waitFor(t, fsm.StateRecording)

	h.clock.Advance(100 * time.Millisecond)
	resp := h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.True(t, resp.OK)

	result := awaitResult(t, done)
	require.NotNil(t, result.Outcome.Failure)
	require.Equal(t, voicesearch.ReasonTooShort, result.Outcome.Failure.Reason)
}

func TestOwnerCancelDuringRecording(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))
	done := h.run(context.Background())
	h.waitFor(t, fsm.StateRecording)

	resp := h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandCancel})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)

	result := awaitResult(t, done)
	require.True(t, result.Cancelled)
	require.Equal(t, fsm.StateIdle, result.State)
	require.Zero(t, h.mic.Live())
}

func TestOwnerCancelDuringProcessingDropsResult(t *testing.T) {
	entered := make(chan struct{})
	h := newOwnerHarness(t, recognizerFunc(func(ctx context.Context, _ *recording.Sample) ([]catalog.Track, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	done := h.run(context.Background())
	h.waitFor(t, fsm.StateRecording)

	h.clock.Advance(time.Second)
	require.True(t, h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop}).OK)
	<-entered

	resp := h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandCancel})
	require.True(t, resp.OK)

	result := awaitResult(t, done)
	require.True(t, result.Cancelled)
	require.Nil(t, result.Outcome.Failure)
	require.Empty(t, result.Outcome.Tracks)
}

func TestOwnerContextCancellationResets(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))
	ctx, cancel := context.WithCancel(context.Background())
	done := h.run(ctx)
	h.waitFor(t, fsm.StateRecording)

	cancel()

	result := awaitResult(t, done)
	require.True(t, result.Cancelled)
	require.Zero(t, h.mic.Live())
}

func TestOwnerStartFailureIsReported(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))
	h.mic.Deny = true

	result := awaitResult(t, h.run(context.Background()))
	require.NotNil(t, result.Outcome.Failure)
	require.Equal(t, voicesearch.ReasonPermissionDenied, result.Outcome.Failure.Reason)
	require.Equal(t, fsm.StateIdle, result.State)
}

func TestOwnerStartErrorIsReported(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))
	h.mic.BeginErr = errors.New("device busy")

	result := awaitResult(t, h.run(context.Background()))
	require.NotNil(t, result.Outcome.Failure)
	require.Equal(t, voicesearch.ReasonHardwareFailure, result.Outcome.Failure.Reason)
}

func TestOwnerHandleRejectsCancelWhenIdle(t *testing.T) {
	h := newOwnerHarness(t, recognizerFunc(matched))

	resp := h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandCancel})
	require.False(t, resp.OK)
	require.Equal(t, "nothing to cancel", resp.Error)

	resp = h.owner.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Zero(t, resp.DurationSeconds)
}

func TestNewOwnerAutoStopThreshold(t *testing.T) {
	require.Equal(t, 4750*time.Millisecond, newOwner(nil, nil, 5*time.Second).autoStop)
	require.Equal(t, 200*time.Millisecond, newOwner(nil, nil, 200*time.Millisecond).autoStop)
	require.Equal(t, voicesearch.DefaultMaxDuration-autoStopMargin, newOwner(nil, nil, 0).autoStop)
}
