package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbright/songscout/internal/fsm"
	"github.com/rbright/songscout/internal/ipc"
	"github.com/rbright/songscout/internal/reconcile"
	"github.com/rbright/songscout/internal/voicesearch"
)

// autoStopMargin is how far ahead of the duration cap the owner requests a stop, so
// the finalized sample still falls within the accepted range.
const autoStopMargin = 250 * time.Millisecond

type ownerAction int

const (
	actionStop ownerAction = iota + 1
	actionCancel
)

// ownerResult summarizes one owner-process attempt.
type ownerResult struct {
	State      fsm.State
	Outcome    voicesearch.Outcome
	Cancelled  bool
	AutoStop   bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// owner runs a single voice-search attempt and serves IPC commands against it.
type owner struct {
	ctrl     *voicesearch.Controller
	logger   *slog.Logger
	autoStop time.Duration
	actions  chan ownerAction
	stopping atomic.Bool
	auto     atomic.Bool
}

func newOwner(ctrl *voicesearch.Controller, logger *slog.Logger, maxDuration time.Duration) *owner {
	if maxDuration <= 0 {
		maxDuration = voicesearch.DefaultMaxDuration
	}
	autoStop := maxDuration - autoStopMargin
	if autoStop <= 0 {
		autoStop = maxDuration
	}
	return &owner{
		ctrl:     ctrl,
		logger:   logger,
		autoStop: autoStop,
		actions:  make(chan ownerAction, 4),
	}
}

// Handle implements ipc.Handler.
func (o *owner) Handle(_ context.Context, req ipc.Request) ipc.Response {
	snap := o.ctrl.Snapshot()
	state := string(snap.State)

	switch req.Command {
	case ipc.CommandStatus:
		resp := ipc.Response{OK: true, State: state}
		if snap.State == fsm.StateRecording {
			resp.DurationSeconds = snap.Duration.Seconds()
		}
		return resp
	case ipc.CommandToggle, ipc.CommandStop:
		if snap.State != fsm.StateRecording {
			return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("cannot stop while %s", snap.State)}
		}
		o.requestStop()
		return ipc.Response{OK: true, State: state, Message: "stop requested"}
	case ipc.CommandCancel:
		if !snap.State.Active() {
			return ipc.Response{OK: false, State: state, Error: "nothing to cancel"}
		}
		o.ctrl.Reset()
		o.enqueue(actionCancel)
		return ipc.Response{OK: true, State: string(fsm.StateIdle), Message: "cancelled"}
	default:
		return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

// Run starts recording and blocks until the attempt settles, is cancelled, or ctx ends.
func (o *owner) Run(ctx context.Context) ownerResult {
	result := ownerResult{StartedAt: time.Now()}

	unsubscribe := o.ctrl.Subscribe(o.watchDuration)
	defer unsubscribe()

	if err := o.ctrl.Start(ctx); err != nil {
		var failure *voicesearch.Failure
		switch {
		case errors.Is(err, voicesearch.ErrCancelled):
			result.Cancelled = true
		case errors.As(err, &failure):
			result.Outcome = voicesearch.Outcome{Failure: failure}
		default:
			result.Err = err
		}
		return o.finish(result)
	}

	for {
		select {
		case <-ctx.Done():
			o.ctrl.Reset()
			result.Cancelled = true
			return o.finish(result)
		case action := <-o.actions:
			switch action {
			case actionCancel:
				o.ctrl.Reset()
				result.Cancelled = true
				return o.finish(result)
			case actionStop:
				outcome, err := o.ctrl.Stop(ctx)
				switch {
				case errors.Is(err, voicesearch.ErrCancelled), errors.Is(err, voicesearch.ErrNotRecording):
					result.Cancelled = true
				case err != nil:
					result.Err = err
				default:
					result.Outcome = outcome
				}
				result.AutoStop = o.auto.Load()
				return o.finish(result)
			}
		}
	}
}

func (o *owner) finish(result ownerResult) ownerResult {
	result.State = o.ctrl.State()
	result.FinishedAt = time.Now()
	return result
}

// watchDuration requests a stop once the recording reaches the auto-stop threshold.
func (o *owner) watchDuration(snap voicesearch.Snapshot) {
	if snap.State != fsm.StateRecording || snap.Duration < o.autoStop {
		return
	}
	if o.requestStop() {
		o.auto.Store(true)
		if o.logger != nil {
			o.logger.Info("auto-stopping at duration cap", "duration_ms", snap.Duration.Milliseconds())
		}
	}
}

// requestStop enqueues at most one stop per attempt and reports whether it did.
func (o *owner) requestStop() bool {
	if !o.stopping.CompareAndSwap(false, true) {
		return false
	}
	o.enqueue(actionStop)
	return true
}

func (o *owner) enqueue(action ownerAction) {
	select {
	case o.actions <- action:
	default:
	}
}

func logSessionResult(logger *slog.Logger, result ownerResult) {
	if logger == nil {
		return
	}
	fields := []any{
		"state", result.State,
		"cancelled", result.Cancelled,
		"auto_stop", result.AutoStop,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"track_count", len(result.Outcome.Tracks),
	}
	if len(result.Outcome.Tracks) > 0 {
		best := result.Outcome.Tracks[0]
		fields = append(fields, "best", best.ID, "synthesized", reconcile.IsSynthesized(best))
	}

	switch {
	case result.Err != nil:
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
	case result.Outcome.Failure != nil:
		failure := result.Outcome.Failure
		logger.Warn("session failed", append(fields, "reason", string(failure.Reason), "message", failure.Message)...)
	default:
		logger.Info("session complete", fields...)
	}
}
