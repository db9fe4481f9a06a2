package audio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

func pcmRamp(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(i*37 - 2000)
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

func TestCaptureFinalizeWritesWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "samples")
	capture := &Capture{dir: dir}

	input := pcmRamp(1600)
	n, err := capture.onPCM(input[:1000])
	require.NoError(t, err)
	require.Equal(t, 1000, n)
	_, err = capture.onPCM(input[1000:])
	require.NoError(t, err)
	require.Equal(t, int64(len(input)), capture.BytesCaptured())

	path, err := capture.Finalize(context.Background())
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))
	require.Equal(t, ".wav", filepath.Ext(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	decoder := wav.NewDecoder(file)
	require.True(t, decoder.IsValidFile())
	require.Equal(t, uint32(sampleRate), decoder.SampleRate)
	require.Equal(t, uint16(channels), decoder.NumChans)

	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, 1600)
	require.Equal(t, -2000, buf.Data[0])
	require.Equal(t, -2000+37, buf.Data[1])
}

func TestCaptureFinalizeWithoutAudio(t *testing.T) {
	capture := &Capture{dir: t.TempDir()}

	_, err := capture.Finalize(context.Background())
	require.ErrorContains(t, err, "no audio captured")

	_, err = capture.Finalize(context.Background())
	require.ErrorIs(t, err, errCaptureClosed)
}

func TestCaptureDiscardDropsAudioAndStopsWrites(t *testing.T) {
	capture := &Capture{dir: t.TempDir()}
	_, err := capture.onPCM([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	require.NoError(t, capture.Discard())
	require.NoError(t, capture.Discard())

	n, err := capture.onPCM([]byte{1, 2})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)

	_, err = capture.Finalize(context.Background())
	require.ErrorIs(t, err, errCaptureClosed)

	entries, err := os.ReadDir(capture.dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCaptureOnPCMCapsBufferedAudio(t *testing.T) {
	capture := &Capture{dir: t.TempDir()}
	capture.pcm = make([]byte, maxCaptureSize-2)

	n, err := capture.onPCM([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Len(t, capture.pcm, maxCaptureSize)

	n, err = capture.onPCM([]byte{5, 6})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, capture.pcm, maxCaptureSize)
}

func TestWriteWAVRejectsOddPayload(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "odd-*.wav")
	require.NoError(t, err)
	defer file.Close()

	require.ErrorContains(t, writeWAV(file, []byte{1, 2, 3}, sampleRate, channels), "not aligned")
}

func TestWriterFuncDelegatesWrite(t *testing.T) {
	called := false
	writer := writerFunc(func(b []byte) (int, error) {
		called = true
		require.Equal(t, []byte{1, 2, 3}, b)
		return len(b), nil
	})

	n, err := writer.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, called)
}
