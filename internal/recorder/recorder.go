// Package recorder captures a voice sample from the microphone using RMS
// voice activity detection: only chunks that contain speech count towards
// the target, so pauses don't pollute the clone sample. The result is
// written as a WAV file suitable for the provider's cloning endpoint.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voxmorph/voxmorph/pkg/audio"
)

// ErrInsufficientSpeech is returned when the capture ended with less than
// half the target speech duration. A clone built from too little material
// sounds wrong, so the sample is discarded instead of saved.
var ErrInsufficientSpeech = errors.New("recorder: not enough speech captured")

// Config holds recorder tuning. The zero value is unusable; use
// DefaultConfig and override as needed.
type Config struct {
	// SampleRate and Channels describe the capture format.
	SampleRate int
	Channels   int

	// TargetSpeech is how much actual speech to collect.
	TargetSpeech time.Duration

	// MaxTotal caps wall-clock capture time, speech or not.
	MaxTotal time.Duration

	// SilenceThreshold is the RMS level below which a chunk counts as
	// silence, in int16 sample units.
	SilenceThreshold float64

	// MinSpeechRun is the shortest burst that counts as speech. Shorter
	// blips (coughs, clicks) are discarded.
	MinSpeechRun time.Duration

	// SilenceDebounce is how much silence is tolerated mid-sentence before
	// capture pauses. Silence inside the debounce window is kept so words
	// aren't clipped.
	SilenceDebounce time.Duration

	// OutputDir is where WAV files are written.
	OutputDir string

	// OnProgress, if set, is called after every chunk with the speech
	// collected so far, total elapsed time, and whether speech is currently
	// being captured.
	OnProgress func(speech, total time.Duration, capturing bool)
}

// DefaultConfig returns the tuning used for clone samples.
func DefaultConfig() Config {
	return Config{
		SampleRate:       44100,
		Channels:         1,
		TargetSpeech:     20 * time.Second,
		MaxTotal:         2 * time.Minute,
		SilenceThreshold: 500,
		MinSpeechRun:     300 * time.Millisecond,
		SilenceDebounce:  1500 * time.Millisecond,
		OutputDir:        "recordings",
	}
}

// Result describes a finished capture.
type Result struct {
	// Path is the saved WAV file.
	Path string

	// Speech is how much speech was captured.
	Speech time.Duration

	// Total is the wall-clock capture duration.
	Total time.Duration
}

// Recorder captures speech from an input stream.
type Recorder struct {
	cfg Config
	in  audio.InputStream
	log *slog.Logger
}

// New creates a Recorder reading from in.
func New(in audio.InputStream, cfg Config, log *slog.Logger) *Recorder {
	return &Recorder{
		cfg: cfg,
		in:  in,
		log: log.With(slog.String("component", "recorder")),
	}
}

// Record captures until the speech target is met, the total cap is hit, or
// ctx is cancelled, then writes the sample to filename under the configured
// output directory. Returns ErrInsufficientSpeech if less than half the
// target was collected.
func (r *Recorder) Record(ctx context.Context, filename string) (*Result, error) {
	if err := r.in.Start(); err != nil {
		return nil, fmt.Errorf("recorder: starting input: %w", err)
	}
	defer func() {
		if err := r.in.Stop(); err != nil {
			r.log.Warn("stopping input stream", slog.String("error", err.Error()))
		}
	}()

	var (
		captured  []byte
		speech    time.Duration
		total     time.Duration
		runBuf    []byte
		runDur    time.Duration
		gapBuf    []byte
		gapDur    time.Duration
		capturing bool
	)

	r.log.Info("recording started",
		slog.Duration("target_speech", r.cfg.TargetSpeech),
		slog.Duration("max_total", r.cfg.MaxTotal))

	for speech < r.cfg.TargetSpeech && total < r.cfg.MaxTotal {
		if ctx.Err() != nil {
			r.log.Info("recording stopped early", slog.Duration("speech", speech))
			break
		}

		frame, err := r.in.Read()
		if err != nil {
			if len(captured)+len(runBuf) == 0 {
				return nil, fmt.Errorf("recorder: reading input: %w", err)
			}
			r.log.Warn("input ended", slog.String("error", err.Error()))
			break
		}
		d := frame.Duration()
		total += d

		if RMS(frame.Data) > r.cfg.SilenceThreshold {
			// Silence inside the debounce window belongs to the sentence;
			// keep it so words aren't clipped.
			if capturing && len(gapBuf) > 0 {
				runBuf = append(runBuf, gapBuf...)
				runDur += gapDur
			}
			gapBuf, gapDur = nil, 0

			runBuf = append(runBuf, frame.Data...)
			runDur += d
			if runDur >= r.cfg.MinSpeechRun {
				captured = append(captured, runBuf...)
				speech += runDur
				runBuf, runDur = nil, 0
				capturing = true
			}
		} else if capturing {
			gapBuf = append(gapBuf, frame.Data...)
			gapDur += d
			if gapDur >= r.cfg.SilenceDebounce {
				capturing = false
				gapBuf, gapDur = nil, 0
				runBuf, runDur = nil, 0
			}
		} else {
			gapBuf, gapDur = nil, 0
			runBuf, runDur = nil, 0
		}

		if r.cfg.OnProgress != nil {
			r.cfg.OnProgress(speech, total, capturing)
		}
	}

	// A trailing run that never met the minimum still counts at the end.
	if len(runBuf) > 0 {
		captured = append(captured, runBuf...)
		speech += runDur
	}

	if speech < r.cfg.TargetSpeech/2 {
		return nil, fmt.Errorf("%w: got %s of %s target", ErrInsufficientSpeech, speech, r.cfg.TargetSpeech)
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: creating output dir: %w", err)
	}
	path := filepath.Join(r.cfg.OutputDir, filename)
	if err := WriteWAV(path, captured, r.cfg.SampleRate, r.cfg.Channels); err != nil {
		return nil, err
	}

	r.log.Info("recording saved",
		slog.String("path", path),
		slog.Duration("speech", speech),
		slog.Duration("total", total))
	return &Result{Path: path, Speech: speech, Total: total}, nil
}

// RMS computes the root mean square level of little-endian int16 PCM.
// Returns 0 for an empty chunk.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// WriteWAV encodes little-endian int16 PCM as a 16-bit WAV file at path.
func WriteWAV(path string, pcm []byte, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recorder: creating %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	err = enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: 16,
	})
	if err != nil {
		f.Close()
		return fmt.Errorf("recorder: writing WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("recorder: finalising WAV: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("recorder: closing %s: %w", path, err)
	}
	return nil
}
