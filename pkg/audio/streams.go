// Package audio defines the types and interfaces for audio hardware access
// and PCM plumbing within voxmorph.
//
// The two primary abstractions are:
//
//   - [OutputStream] — a hardware playback handle accepting PCM writes.
//   - [InputStream] — a microphone capture handle yielding PCM frames.
//
// Implementations are provided by device-specific adapter packages (e.g.
// audio/portaudio). The interfaces are intentionally narrow so the call
// controller and sink stay decoupled from driver details, and so tests can
// substitute the in-memory fakes from the audio/mock package.
package audio

// StreamState describes the lifecycle state of an [OutputStream].
type StreamState int

const (
	// StreamStopped means the stream is open but not delivering samples to
	// the device. The initial state, and the state after Stop.
	StreamStopped StreamState = iota

	// StreamActive means the stream is delivering samples to the device.
	StreamActive
)

// String returns the human-readable name of the state.
func (s StreamState) String() string {
	switch s {
	case StreamStopped:
		return "stopped"
	case StreamActive:
		return "active"
	default:
		return "unknown"
	}
}

// OutputStream is a hardware playback handle.
//
// Implementations must be safe for concurrent use: in particular, Stop must
// be callable at any time from any goroutine — including while another
// goroutine is blocked in Write — and must not block waiting for buffered
// audio to drain. That property is what keeps the hangup path bounded.
type OutputStream interface {
	// Start transitions the stream to [StreamActive]. Starting an already
	// active stream is a no-op.
	Start() error

	// Write delivers little-endian int16 PCM to the device. Write may block
	// for roughly the playback duration of the data, but returns promptly
	// after Stop is called.
	Write(pcm []byte) error

	// Stop halts playback immediately, discarding any samples the driver has
	// buffered, and transitions the stream to [StreamStopped]. Safe to call
	// from any goroutine and in any state; never blocks on buffer drain.
	Stop() error

	// Close releases the device handle. Close implies Stop. Idempotent.
	Close() error

	// State reports the current lifecycle state.
	State() StreamState
}

// InputStream is a microphone capture handle.
//
// Read blocks until a frame of samples is available. A stopped or closed
// stream causes Read to return an error; callers treat that as end of
// capture, not a fault.
type InputStream interface {
	// Start begins capture. Starting an already capturing stream is a no-op.
	Start() error

	// Read returns the next frame of captured audio.
	Read() (Frame, error)

	// Stop halts capture. Safe to call from any goroutine.
	Stop() error

	// Close releases the device handle. Close implies Stop. Idempotent.
	Close() error
}
