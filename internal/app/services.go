package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/songscout/internal/audio"
	"github.com/rbright/songscout/internal/config"
	"github.com/rbright/songscout/internal/history"
	"github.com/rbright/songscout/internal/indicator"
	"github.com/rbright/songscout/internal/output"
	"github.com/rbright/songscout/internal/recognition"
	"github.com/rbright/songscout/internal/reconcile"
	"github.com/rbright/songscout/internal/recording"
	"github.com/rbright/songscout/internal/voicesearch"
)

// services is everything the owner process wires around one controller.
type services struct {
	controller  *voicesearch.Controller
	notifier    *indicator.Notifier
	history     *history.Store
	clipboard   *output.Clipboard
	telemetry   *telemetry
	logger      *slog.Logger
	maxDuration time.Duration
}

func newServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (*services, error) {
	tel := newTelemetry()
	metrics, err := voicesearch.NewMetrics(tel.provider)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	sampleDir, err := config.SampleDir()
	if err != nil {
		return nil, err
	}
	mic := audio.NewMicrophone(cfg.Audio.Input, cfg.Audio.Fallback, sampleDir, logger)

	sessionOpts := recording.Options{
		Logger:       logger,
		TickInterval: millis(cfg.VoiceSearch.TickMS),
	}
	if cfg.Debug.KeepSamples {
		sessionOpts.ReleaseSample = func(uri string) error {
			logger.Debug("keeping sample", "path", uri)
			return nil
		}
	}
	session := recording.NewSession(mic, sessionOpts)

	recognizer := recognition.NewService(
		recognition.NewClient(recognition.Config{
			Endpoint: cfg.Recognition.Endpoint,
			APIHost:  cfg.Recognition.APIHost,
			APIKey:   cfg.Recognition.APIKey,
			Timeout:  millis(cfg.Recognition.TimeoutMS),
		}),
		reconcile.New(newCatalogClient(cfg), cfg.Catalog.SearchLimit, logger),
		logger,
	)

	svc := &services{
		notifier:    indicator.New(cfg.Indicator, logger),
		telemetry:   tel,
		logger:      logger,
		maxDuration: millis(cfg.VoiceSearch.MaxDurationMS),
	}

	if cfg.Clipboard.Enable {
		svc.clipboard = output.NewClipboard(cfg.Clipboard.Argv, logger)
	}

	if cfg.History.Enable {
		store, err := openHistory(ctx, cfg, logger)
		if err != nil {
			logger.Warn("history unavailable", "error", err.Error())
		} else {
			svc.history = store
		}
	}

	svc.controller = voicesearch.NewController(session, recognizer, voicesearch.Options{
		Logger:             logger,
		MinDuration:        millis(cfg.VoiceSearch.MinDurationMS),
		MaxDuration:        svc.maxDuration,
		RecognitionTimeout: millis(cfg.VoiceSearch.RecognitionTimeoutMS),
		Metrics:            metrics,
		OnResults:          svc.notifier.ShowResults,
		OnError:            svc.notifier.ShowFailure,
	})
	svc.controller.Subscribe(svc.notifier.Observe)

	return svc, nil
}

// remember stores the best track of a delivered attempt.
func (s *services) remember(ctx context.Context, outcome voicesearch.Outcome) {
	if s.history == nil || !outcome.Delivered() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	best := outcome.Tracks[0]
	if err := s.history.Add(ctx, best); err != nil && s.logger != nil {
		s.logger.Warn("history add failed", "track", best.ID, "error", err.Error())
	}
}

// copyResult puts the best track of a delivered attempt on the clipboard.
func (s *services) copyResult(ctx context.Context, outcome voicesearch.Outcome) {
	if s.clipboard == nil || !outcome.Delivered() {
		return
	}
	if err := s.clipboard.CopyTrack(context.WithoutCancel(ctx), outcome.Tracks[0]); err != nil && s.logger != nil {
		s.logger.Warn("clipboard copy failed", "error", err.Error())
	}
}

// Close tears down in dependency order and logs the metrics summary last.
func (s *services) Close(ctx context.Context) {
	if s.controller != nil {
		s.controller.Reset()
		s.controller.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if err := s.history.Close(); err != nil && s.logger != nil {
		s.logger.Warn("history close failed", "error", err.Error())
	}
	if s.telemetry != nil {
		s.telemetry.logSummary(ctx, s.logger)
		_ = s.telemetry.shutdown(ctx)
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
