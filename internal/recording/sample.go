package recording

import (
	"sync"
	"time"
)

// Sample is a finalized capture awaiting upload. Release is idempotent.
type Sample struct {
	URI      string
	Duration time.Duration

	once    sync.Once
	release func(string) error
	err     error
}

func newSample(uri string, duration time.Duration, release func(string) error) *Sample {
	return &Sample{URI: uri, Duration: duration, release: release}
}

// NewSample builds a sample from an existing artifact; release may be nil.
func NewSample(uri string, duration time.Duration, release func(string) error) *Sample {
	return newSample(uri, duration, release)
}

// Release disposes of the artifact once and returns the first result on every call.
func (s *Sample) Release() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.release != nil {
			s.err = s.release(s.URI)
		}
	})
	return s.err
}
