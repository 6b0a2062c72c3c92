// Package sound plays the "recognition succeeded" cue.
package sound

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/beeep"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"

	"gemini-ocr-capture/src/logutil"
)

const framesPerBuffer = 1024

// Player plays the success cue: a custom WAV file when one is configured and
// readable, otherwise the system beep. It never reports failure to callers.
type Player struct {
	logger   logutil.Logger
	beep     func() error
	playFile func(path string) error
}

type Option func(*Player)

func WithLogger(l logutil.Logger) Option {
	return func(p *Player) { p.logger = logutil.OrNop(l) }
}

// WithBackends replaces the beep and file playback, for tests.
func WithBackends(beep func() error, playFile func(path string) error) Option {
	return func(p *Player) {
		if beep != nil {
			p.beep = beep
		}
		if playFile != nil {
			p.playFile = playFile
		}
	}
}

func NewPlayer(opts ...Option) *Player {
	p := &Player{
		logger:   logutil.Nop,
		beep:     systemBeep,
		playFile: PlayWAV,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlaySuccess plays customPath if set, falling back to the beep.
func (p *Player) PlaySuccess(customPath string) {
	if path := strings.TrimSpace(customPath); path != "" {
		err := p.playFile(path)
		if err == nil {
			return
		}
		p.logger.Printf("Sound: custom sound %q failed, falling back to beep: %v", path, err)
	}
	if err := p.beep(); err != nil {
		p.logger.Printf("Sound: beep failed: %v", err)
	}
}

func systemBeep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// Clip is decoded PCM audio, interleaved and scaled to [-1, 1].
type Clip struct {
	Samples    []float32
	Channels   int
	SampleRate int
}

// DecodeWAV reads a PCM WAV file.
func DecodeWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("decode %s: missing format", path)
	}
	depth := int(d.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("decode %s: unsupported bit depth %d", path, depth)
	}

	scale := float32(int64(1) << (depth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return &Clip{Samples: samples, Channels: buf.Format.NumChannels, SampleRate: buf.Format.SampleRate}, nil
}

// PlayWAV decodes path and plays it on the default output device, blocking
// until playback ends.
func PlayWAV(path string) error {
	clip, err := DecodeWAV(path)
	if err != nil {
		return err
	}
	if len(clip.Samples) == 0 {
		return errors.New("wav file has no samples")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]float32, framesPerBuffer*clip.Channels)
	stream, err := portaudio.OpenDefaultStream(0, clip.Channels, float64(clip.SampleRate), framesPerBuffer, &out)
	if err != nil {
		return fmt.Errorf("open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start audio stream: %w", err)
	}
	for off := 0; off < len(clip.Samples); off += len(out) {
		n := copy(out, clip.Samples[off:])
		clear(out[n:])
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	return stream.Stop()
}
