package recognition

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/recording"
)

// Recognizer identifies the song in an uploaded sample.
type Recognizer interface {
	Recognize(ctx context.Context, sampleURI string) (*Match, error)
}

// Resolver maps a match onto catalog tracks. It never fails.
type Resolver interface {
	Resolve(ctx context.Context, match Match, recorded time.Duration) []catalog.Track
}

// Service runs recognition then catalog reconciliation for one sample.
type Service struct {
	recognizer Recognizer
	resolver   Resolver
	logger     *slog.Logger
}

func NewService(recognizer Recognizer, resolver Resolver, logger *slog.Logger) *Service {
	return &Service{recognizer: recognizer, resolver: resolver, logger: logger}
}

// Recognize returns an empty slice when nothing matched and the reconciled tracks
// (best first) otherwise.
func (s *Service) Recognize(ctx context.Context, sample *recording.Sample) ([]catalog.Track, error) {
	if sample == nil {
		return nil, failure("read sample", errors.New("no sample"))
	}

	started := time.Now()
	match, err := s.recognizer.Recognize(ctx, sample.URI)
	if err != nil {
		return nil, err
	}
	if match == nil {
		s.log("recognition found no match", "elapsed_ms", time.Since(started).Milliseconds())
		return []catalog.Track{}, nil
	}

	s.log("recognition matched",
		"title", match.Title,
		"subtitle", match.Subtitle,
		"key", match.ExternalID,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return s.resolver.Resolve(ctx, *match, sample.Duration), nil
}

func (s *Service) log(msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Info(msg, args...)
}
