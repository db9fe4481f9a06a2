package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	sampleRate     = 16000
	channels       = 1
	fragmentBytes  = 640 // 20ms @ 16kHz mono s16
	maxCaptureSecs = 120
	maxCaptureSize = sampleRate * channels * 2 * maxCaptureSecs
)

var errCaptureClosed = errors.New("capture already closed")

// Capture buffers PCM from one Pulse source until it is finalized or discarded.
type Capture struct {
	device Device
	dir    string

	client *pulse.Client
	stream *pulse.RecordStream

	mu     sync.Mutex
	pcm    []byte
	closed bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// startCapture opens a 16kHz mono s16 record stream on the selected source.
func startCapture(_ context.Context, selected Device, dir string) (*Capture, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := &Capture{device: selected, dir: dir, client: client}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("songscout voice search"),
	)
	if err != nil {
		capture.release()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()
	return capture, nil
}

// Device returns the capture source for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// BytesCaptured reports total PCM bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Finalize stops the stream and writes the buffered PCM to a WAV file.
func (c *Capture) Finalize(_ context.Context) (string, error) {
	pcm, ok := c.release()
	if !ok {
		return "", errCaptureClosed
	}
	if len(pcm) == 0 {
		return "", errors.New("no audio captured")
	}

	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return "", fmt.Errorf("create sample dir: %w", err)
	}
	path := filepath.Join(c.dir, "sample-"+uuid.NewString()+".wav")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create sample file: %w", err)
	}

	if err := writeWAV(file, pcm, sampleRate, channels); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close sample file: %w", err)
	}
	return path, nil
}

// Discard stops the stream and drops buffered PCM.
func (c *Capture) Discard() error {
	c.release()
	return nil
}

// release tears down the stream exactly once and hands back the buffered PCM.
func (c *Capture) release() ([]byte, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	c.closed = true
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	pcm := c.pcm
	c.pcm = nil
	return pcm, true
}

// onPCM appends raw frames from Pulse until the capture closes or hits its size cap.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.EOF
	}
	c.inflight.Add(1)
	defer c.inflight.Done()

	room := maxCaptureSize - len(c.pcm)
	if room > 0 {
		if len(buffer) > room {
			c.pcm = append(c.pcm, buffer[:room]...)
		} else {
			c.pcm = append(c.pcm, buffer...)
		}
	}
	c.mu.Unlock()

	c.bytes.Add(int64(len(buffer)))
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
