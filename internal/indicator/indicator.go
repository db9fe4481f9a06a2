// Package indicator turns voice-search state changes into desktop notifications and
// short audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/config"
	"github.com/rbright/songscout/internal/fsm"
	"github.com/rbright/songscout/internal/voicesearch"
)

const (
	persistentTimeoutMS = 300000
	resultTimeoutMS     = 8000
	dispatchTimeout     = 400 * time.Millisecond
	queueSize           = 16
)

// Notifier follows controller snapshots. Observe never blocks the publisher: work is
// queued to a single worker so notifications keep their order.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	notify  func(context.Context, notification) (uint32, error)
	dismiss func(context.Context, uint32) error
	cue     func(cueKind) error

	queue chan func(context.Context)
	done  chan struct{}
	once  sync.Once
	cues  sync.WaitGroup

	mu             sync.Mutex
	last           fsm.State
	notificationID uint32
	closed         bool
	soundMu        sync.Mutex
}

// New starts a notifier worker. Call Close to drain it.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	return newNotifier(cfg, logger, desktopNotify, desktopDismiss, emitCue)
}

func newNotifier(
	cfg config.IndicatorConfig,
	logger *slog.Logger,
	notify func(context.Context, notification) (uint32, error),
	dismiss func(context.Context, uint32) error,
	cue func(cueKind) error,
) *Notifier {
	n := &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		notify:   notify,
		dismiss:  dismiss,
		cue:      cue,
		queue:    make(chan func(context.Context), queueSize),
		done:     make(chan struct{}),
		last:     fsm.StateIdle,
	}
	go n.loop()
	return n
}

// Observe reacts to state changes in snap; duration-only updates are ignored.
func (n *Notifier) Observe(snap voicesearch.Snapshot) {
	n.mu.Lock()
	prev := n.last
	n.last = snap.State
	n.mu.Unlock()
	if prev == snap.State {
		return
	}

	switch snap.State {
	case fsm.StateRecording:
		n.playCue(cueStart)
		n.enqueue(func(ctx context.Context) {
			n.show(ctx, n.messages.listening, n.messages.listenTip, persistentTimeoutMS)
		})
	case fsm.StateProcessing:
		n.playCue(cueStop)
		n.enqueue(func(ctx context.Context) {
			n.show(ctx, n.messages.identifying, "", persistentTimeoutMS)
		})
	case fsm.StateDelivered:
		n.playCue(cueComplete)
	case fsm.StateFailed:
		n.playCue(cueFailure)
	case fsm.StateIdle:
		if prev.Active() {
			n.playCue(cueCancel)
			n.enqueue(n.hide)
		}
	}
}

// ShowResults announces the best track of a delivered attempt.
func (n *Notifier) ShowResults(tracks []catalog.Track) {
	if len(tracks) == 0 {
		return
	}
	body := trackLine(tracks[0])
	n.enqueue(func(ctx context.Context) {
		n.show(ctx, n.messages.found, body, resultTimeoutMS)
	})
}

// ShowFailure displays the user-facing message of a failed attempt.
func (n *Notifier) ShowFailure(failure *voicesearch.Failure) {
	text := n.messages.errorText
	if failure != nil && strings.TrimSpace(failure.Message) != "" {
		text = failure.Message
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.enqueue(func(ctx context.Context) {
		n.show(ctx, n.messages.errorText, text, timeout)
	})
}

// Close stops accepting work, drains the queue, and waits for cues in flight.
func (n *Notifier) Close() {
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
		<-n.done
		n.cues.Wait()
	})
}

func (n *Notifier) loop() {
	defer close(n.done)
	for fn := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		fn(ctx)
		cancel()
	}
}

func (n *Notifier) enqueue(fn func(context.Context)) {
	if !n.cfg.Enable {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- fn:
	default:
		n.log("indicator queue full; dropping notification", nil)
	}
}

func (n *Notifier) show(ctx context.Context, summary, body string, timeoutMS int) {
	n.mu.Lock()
	replaceID := n.notificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.AppName)
	if appName == "" {
		appName = "songscout"
	}

	id, err := n.notify(ctx, notification{
		AppName:   appName,
		ReplaceID: replaceID,
		Summary:   summary,
		Body:      body,
		TimeoutMS: timeoutMS,
	})
	if err != nil {
		n.log("indicator dispatch failed", err)
		return
	}

	n.mu.Lock()
	n.notificationID = id
	n.mu.Unlock()
}

func (n *Notifier) hide(ctx context.Context) {
	n.mu.Lock()
	id := n.notificationID
	n.notificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return
	}
	if err := n.dismiss(ctx, id); err != nil {
		n.log("indicator dismiss failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.cues.Add(1)
	n.mu.Unlock()
	go func() {
		defer n.cues.Done()
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := n.cue(kind); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil {
		return
	}
	if err == nil {
		n.logger.Debug(message)
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
