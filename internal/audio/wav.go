package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes little-endian s16 PCM as a 16-bit PCM WAV stream.
func writeWAV(out io.WriteSeeker, pcm []byte, rate int, numChannels int) error {
	if len(pcm)%2 != 0 {
		return errors.New("pcm payload not aligned")
	}

	data := make([]int, len(pcm)/2)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(out, rate, 16, numChannels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
