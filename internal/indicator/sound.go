package indicator

import (
	"fmt"
	"math"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueCancel
	cueFailure
)

func (k cueKind) String() string {
	switch k {
	case cueStart:
		return "start"
	case cueStop:
		return "stop"
	case cueComplete:
		return "complete"
	case cueCancel:
		return "cancel"
	case cueFailure:
		return "failure"
	default:
		return fmt.Sprintf("cue(%d)", int(k))
	}
}

const (
	cueRate   = 16000
	noteGapMS = 22
	fadeMS    = 5
)

type note struct {
	hz float64
	ms int
}

// melody is a short note sequence played at a fixed gain.
type melody struct {
	gain  float32
	notes []note
}

// Rising pairs mean "listening" or "found", falling pairs mean "stopped listening".
var melodies = map[cueKind]melody{
	cueStart:    {gain: 0.18, notes: []note{{880, 70}, {1175, 70}}},
	cueStop:     {gain: 0.18, notes: []note{{620, 120}}},
	cueComplete: {gain: 0.18, notes: []note{{740, 65}, {988, 90}, {1319, 110}}},
	cueCancel:   {gain: 0.18, notes: []note{{480, 75}, {360, 90}}},
	cueFailure:  {gain: 0.2, notes: []note{{330, 110}, {330, 110}}},
}

func emitCue(kind cueKind) error {
	pcm := renderCue(kind)
	if len(pcm) == 0 {
		return nil
	}
	return playPCM(pcm, kind)
}

// renderCue returns mono float PCM at cueRate, or nil for an unknown kind.
func renderCue(kind cueKind) []float32 {
	m, ok := melodies[kind]
	if !ok || len(m.notes) == 0 {
		return nil
	}

	gap := msToSamples(noteGapMS)
	total := gap * (len(m.notes) - 1)
	for _, n := range m.notes {
		total += msToSamples(n.ms)
	}

	pcm := make([]float32, 0, total)
	for i, n := range m.notes {
		if i > 0 {
			pcm = append(pcm, make([]float32, gap)...)
		}
		pcm = appendNote(pcm, n, m.gain)
	}
	return pcm
}

// appendNote renders a sine note with a short linear fade at both ends so notes do
// not click.
func appendNote(dst []float32, n note, gain float32) []float32 {
	count := msToSamples(n.ms)
	if count == 0 || n.hz <= 0 || gain <= 0 {
		return dst
	}
	fade := min(msToSamples(fadeMS), max(count/10, 1))

	step := 2 * math.Pi * n.hz / cueRate
	for i := 0; i < count; i++ {
		env := min(1, float64(i)/float64(fade), float64(count-1-i)/float64(fade))
		dst = append(dst, float32(math.Sin(step*float64(i))*env)*gain)
	}
	return dst
}

func msToSamples(ms int) int {
	if ms <= 0 {
		return 0
	}
	return ms * cueRate / 1000
}

func playPCM(pcm []float32, kind cueKind) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("songscout"),
		pulse.ClientApplicationIconName("audio-x-generic"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	pos := 0
	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		n := copy(buf, pcm[pos:])
		pos += n
		if pos >= len(pcm) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("songscout "+kind.String()+" cue"),
	)
	if err != nil {
		return fmt.Errorf("open cue playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play %s cue: %w", kind, err)
	}
	return nil
}
