// Package portaudio adapts PortAudio device streams to the audio stream
// interfaces used by the rest of the application. Output playback discards
// any device-buffered audio on Stop instead of draining it, so a stop request
// takes effect within one hardware buffer.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/voxmorph/voxmorph/pkg/audio"
)

// FramesPerBuffer is the hardware buffer size in frames. At 16kHz mono this
// is 32ms of audio, which bounds how much already-submitted audio can still
// play after an abort.
const FramesPerBuffer = 512

// ErrNotStarted is returned by Write and Read when the stream has not been
// started or has been stopped.
var ErrNotStarted = errors.New("portaudio: stream not started")

// Initialize sets up the PortAudio host API. It must be called once before
// opening any stream, and paired with Terminate on shutdown.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host API.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("terminating portaudio: %w", err)
	}
	return nil
}

// Output plays little-endian int16 PCM on the default output device.
type Output struct {
	writeMu   sync.Mutex
	stream    *portaudio.Stream
	buf       []int16
	remainder []int16
	format    audio.Format
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
	log       *slog.Logger
}

var _ audio.OutputStream = (*Output)(nil)

// OpenOutput opens the default output device for the given format. The
// returned stream is stopped; call Start before writing.
func OpenOutput(format audio.Format, log *slog.Logger) (*Output, error) {
	buf := make([]int16, FramesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), FramesPerBuffer, &buf)
	if err != nil {
		return nil, fmt.Errorf("opening output stream: %w", err)
	}
	return &Output{
		stream:    stream,
		buf:       buf,
		remainder: make([]int16, 0, len(buf)),
		format:    format,
		log:       log.With(slog.String("component", "portaudio.output")),
	}, nil
}

func (o *Output) Start() error {
	if !o.state.CompareAndSwap(int32(audio.StreamStopped), int32(audio.StreamActive)) {
		return nil
	}
	if err := o.stream.Start(); err != nil {
		o.state.Store(int32(audio.StreamStopped))
		return fmt.Errorf("starting output stream: %w", err)
	}
	return nil
}

// Write submits PCM to the device, blocking until the device has accepted
// it. If Stop fires mid-write the device write is aborted and Write returns
// nil promptly; the unplayed tail is discarded.
func (o *Output) Write(pcm []byte) error {
	if audio.StreamState(o.state.Load()) != audio.StreamActive {
		return ErrNotStarted
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	samples := bytesToInt16(pcm)
	if len(o.remainder) > 0 {
		samples = append(o.remainder, samples...)
		o.remainder = o.remainder[:0]
	}

	for off := 0; off < len(samples); off += len(o.buf) {
		if audio.StreamState(o.state.Load()) != audio.StreamActive {
			return nil
		}
		end := off + len(o.buf)
		if end > len(samples) {
			// Partial hardware buffer stays queued for the next call.
			o.remainder = append(o.remainder[:0], samples[off:]...)
			return nil
		}
		copy(o.buf, samples[off:end])
		if err := o.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				o.log.Debug("output underflowed", slog.String("error", err.Error()))
				continue
			}
			if audio.StreamState(o.state.Load()) != audio.StreamActive {
				// Aborted by Stop; the interrupted write is expected.
				return nil
			}
			return fmt.Errorf("writing output stream: %w", err)
		}
	}
	return nil
}

// Stop aborts playback, discarding any audio the device has buffered but not
// yet played. It never waits for the buffer to drain and is safe to call from
// any goroutine, including while a Write is in flight.
func (o *Output) Stop() error {
	if !o.state.CompareAndSwap(int32(audio.StreamActive), int32(audio.StreamStopped)) {
		return nil
	}
	if err := o.stream.Abort(); err != nil {
		return fmt.Errorf("aborting output stream: %w", err)
	}
	return nil
}

// Close stops the stream and releases the device. Subsequent calls return
// the first result.
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		stopErr := o.Stop()
		if err := o.stream.Close(); err != nil {
			o.closeErr = errors.Join(stopErr, fmt.Errorf("closing output stream: %w", err))
			return
		}
		o.closeErr = stopErr
	})
	return o.closeErr
}

func (o *Output) State() audio.StreamState {
	return audio.StreamState(o.state.Load())
}

// Input captures little-endian int16 PCM from the default input device.
type Input struct {
	stream    *portaudio.Stream
	buf       []int16
	format    audio.Format
	elapsed   time.Duration
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
	log       *slog.Logger
}

var _ audio.InputStream = (*Input)(nil)

// OpenInput opens the default input device for the given format.
func OpenInput(format audio.Format, log *slog.Logger) (*Input, error) {
	buf := make([]int16, FramesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), FramesPerBuffer, &buf)
	if err != nil {
		return nil, fmt.Errorf("opening input stream: %w", err)
	}
	return &Input{
		stream: stream,
		buf:    buf,
		format: format,
		log:    log.With(slog.String("component", "portaudio.input")),
	}, nil
}

func (i *Input) Start() error {
	if !i.state.CompareAndSwap(int32(audio.StreamStopped), int32(audio.StreamActive)) {
		return nil
	}
	if err := i.stream.Start(); err != nil {
		i.state.Store(int32(audio.StreamStopped))
		return fmt.Errorf("starting input stream: %w", err)
	}
	return nil
}

// Read blocks until one hardware buffer of audio has been captured and
// returns it as a frame. The frame timestamp is the running capture offset.
func (i *Input) Read() (audio.Frame, error) {
	if audio.StreamState(i.state.Load()) != audio.StreamActive {
		return audio.Frame{}, ErrNotStarted
	}
	if err := i.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			i.log.Debug("input overflowed", slog.String("error", err.Error()))
		} else {
			return audio.Frame{}, fmt.Errorf("reading input stream: %w", err)
		}
	}
	frame := audio.Frame{
		Data:       int16ToBytes(i.buf),
		SampleRate: i.format.SampleRate,
		Channels:   i.format.Channels,
		Timestamp:  i.elapsed,
	}
	i.elapsed += time.Duration(FramesPerBuffer) * time.Second / time.Duration(i.format.SampleRate)
	return frame, nil
}

// Stop aborts capture without waiting for a pending buffer.
func (i *Input) Stop() error {
	if !i.state.CompareAndSwap(int32(audio.StreamActive), int32(audio.StreamStopped)) {
		return nil
	}
	if err := i.stream.Abort(); err != nil {
		return fmt.Errorf("aborting input stream: %w", err)
	}
	return nil
}

// Close stops capture and releases the device.
func (i *Input) Close() error {
	i.closeOnce.Do(func() {
		stopErr := i.Stop()
		if err := i.stream.Close(); err != nil {
			i.closeErr = errors.Join(stopErr, fmt.Errorf("closing input stream: %w", err))
			return
		}
		i.closeErr = stopErr
	})
	return i.closeErr
}

func (i *Input) State() audio.StreamState {
	return audio.StreamState(i.state.Load())
}

func bytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

func int16ToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}
