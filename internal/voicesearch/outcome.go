package voicesearch

import (
	"errors"

	"github.com/rbright/songscout/internal/catalog"
)

var (
	// ErrBusy means Start was called while another attempt is active.
	ErrBusy = errors.New("voice search already in progress")
	// ErrNotRecording means Stop was called outside the recording state.
	ErrNotRecording = errors.New("not recording")
	// ErrCancelled means Reset (or caller cancellation) ended the attempt; no outcome is reported.
	ErrCancelled = errors.New("voice search cancelled")
)

// Reason classifies a failed attempt.
type Reason string

const (
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonHardwareFailure   Reason = "hardware_failure"
	ReasonTooShort          Reason = "too_short"
	ReasonTooLong           Reason = "too_long"
	ReasonNoMatch           Reason = "no_match"
	ReasonRecognitionFailed Reason = "recognition_failed"
)

// Failure is a user-facing terminal failure.
type Failure struct {
	Reason  Reason
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Reason) + ": " + f.Message + ": " + f.Err.Error()
	}
	return string(f.Reason) + ": " + f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is either a non-empty track list (best first) or a Failure.
type Outcome struct {
	Tracks  []catalog.Track
	Failure *Failure
}

// Delivered reports whether the attempt produced tracks.
func (o Outcome) Delivered() bool {
	return o.Failure == nil && len(o.Tracks) > 0
}

const (
	msgPermissionDenied = "Microphone permission is required to search by voice."
	msgHardwareStart    = "Could not start recording. Check your microphone and try again."
	msgHardwareStop     = "Could not finish recording. Please try again."
	fmtTooShort         = "Recording too short. Please record for at least %g seconds."
	fmtTooLong          = "Recording too long. Please keep recordings under %g seconds."
	msgNoMatch          = "No song detected. Try recording again with clearer audio."
	msgRecognitionTime  = "Recognition timed out. Check your connection and try again."
	msgRecognition      = "Failed to recognize song. Please try again."
)
