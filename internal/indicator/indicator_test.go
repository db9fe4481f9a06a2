package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/config"
	"github.com/rbright/songscout/internal/fsm"
	"github.com/rbright/songscout/internal/voicesearch"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	shown     []notification
	dismissed []uint32
	cues      []cueKind
	nextID    uint32
	notifyErr error
}

func (r *recorder) notify(_ context.Context, n notification) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notifyErr != nil {
		return 0, r.notifyErr
	}
	r.shown = append(r.shown, n)
	if n.ReplaceID != 0 {
		return n.ReplaceID, nil
	}
	r.nextID++
	return r.nextID, nil
}

func (r *recorder) dismiss(_ context.Context, id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed = append(r.dismissed, id)
	return nil
}

func (r *recorder) cue(kind cueKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, kind)
	return nil
}

func newTestNotifier(t *testing.T, mutate func(*config.IndicatorConfig)) (*Notifier, *recorder) {
	t.Helper()
	cfg := config.Default().Indicator
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &recorder{}
	n := newNotifier(cfg, nil, rec.notify, rec.dismiss, rec.cue)
	t.Cleanup(n.Close)
	return n, rec
}

func observe(n *Notifier, states ...fsm.State) {
	for _, state := range states {
		n.Observe(voicesearch.Snapshot{State: state})
	}
}

func TestNotifierDeliveredFlow(t *testing.T) {
	n, rec := newTestNotifier(t, nil)

	observe(n, fsm.StateAcquiring, fsm.StateRecording)
	n.Observe(voicesearch.Snapshot{State: fsm.StateRecording, Duration: 1})
	observe(n, fsm.StateProcessing, fsm.StateDelivered)
	n.ShowResults([]catalog.Track{{ID: "1", Name: "Get Lucky", Artists: []catalog.Artist{{Name: "Daft Punk"}}}})
	observe(n, fsm.StateIdle)
	n.Close()

	require.Len(t, rec.shown, 3)
	require.Equal(t, "Listening…", rec.shown[0].Summary)
	require.Equal(t, uint32(0), rec.shown[0].ReplaceID)
	require.Equal(t, "Identifying song…", rec.shown[1].Summary)
	require.Equal(t, uint32(1), rec.shown[1].ReplaceID)
	require.Equal(t, "Found a match", rec.shown[2].Summary)
	require.Equal(t, "Get Lucky by Daft Punk", rec.shown[2].Body)
	require.Equal(t, "songscout", rec.shown[2].AppName)
	require.Empty(t, rec.dismissed)
	require.ElementsMatch(t, []cueKind{cueStart, cueStop, cueComplete}, rec.cues)
}

func TestNotifierFailureShowsMessage(t *testing.T) {
	n, rec := newTestNotifier(t, func(cfg *config.IndicatorConfig) { cfg.ErrorTimeoutMS = 0 })

	observe(n, fsm.StateAcquiring, fsm.StateRecording, fsm.StateProcessing, fsm.StateFailed)
	n.ShowFailure(&voicesearch.Failure{Reason: voicesearch.ReasonNoMatch, Message: "No song detected."})
	observe(n, fsm.StateIdle)
	n.Close()

	last := rec.shown[len(rec.shown)-1]
	require.Equal(t, "No song detected.", last.Body)
	require.Equal(t, 1200, last.TimeoutMS)
	require.Contains(t, rec.cues, cueFailure)
	require.NotContains(t, rec.cues, cueCancel)
}

func TestNotifierCancelDismisses(t *testing.T) {
	n, rec := newTestNotifier(t, nil)

	observe(n, fsm.StateAcquiring, fsm.StateRecording, fsm.StateIdle)
	n.Close()

	require.Len(t, rec.shown, 1)
	require.Equal(t, []uint32{1}, rec.dismissed)
	require.Contains(t, rec.cues, cueCancel)
}

func TestNotifierDisabledSkipsNotificationsButKeepsCues(t *testing.T) {
	n, rec := newTestNotifier(t, func(cfg *config.IndicatorConfig) { cfg.Enable = false })

	observe(n, fsm.StateAcquiring, fsm.StateRecording, fsm.StateIdle)
	n.ShowFailure(nil)
	n.Close()

	require.Empty(t, rec.shown)
	require.Empty(t, rec.dismissed)
	require.ElementsMatch(t, []cueKind{cueStart, cueCancel}, rec.cues)
}

func TestNotifierSoundDisabled(t *testing.T) {
	n, rec := newTestNotifier(t, func(cfg *config.IndicatorConfig) { cfg.SoundEnable = false })

	observe(n, fsm.StateAcquiring, fsm.StateRecording)
	n.Close()

	require.Empty(t, rec.cues)
	require.Len(t, rec.shown, 1)
}

func TestNotifierDispatchErrorKeepsRunning(t *testing.T) {
	n, rec := newTestNotifier(t, nil)
	rec.notifyErr = errors.New("no notification daemon")

	observe(n, fsm.StateAcquiring, fsm.StateRecording, fsm.StateIdle)
	n.Close()

	require.Empty(t, rec.shown)
	require.Empty(t, rec.dismissed)
}

func TestNotifierIgnoresWorkAfterClose(t *testing.T) {
	n, rec := newTestNotifier(t, nil)
	n.Close()
	n.Close()

	observe(n, fsm.StateAcquiring, fsm.StateRecording)
	n.ShowResults([]catalog.Track{{ID: "1", Name: "x"}})

	require.Empty(t, rec.shown)
	require.Empty(t, rec.cues)
}
