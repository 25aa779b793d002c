package audio

import "time"

// Frame represents a single frame of captured audio flowing through the
// pipeline. Frames are the atomic unit of microphone transport — captured
// from an input stream, scored by voice activity detection, and accumulated
// into voice samples for cloning.
type Frame struct {
	// PCM audio data, little-endian int16.
	Data []byte

	// SampleRate in Hz (e.g., 44100 for microphone capture, 16000 for the
	// conversational API).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the frame's playback duration based on its own format.
func (f Frame) Duration() time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// Chunk is one unit of decoded playback audio received from the remote
// session, tagged with its arrival order. Chunks are treated as immutable:
// the sink copies nothing and callers must not mutate Data after enqueueing.
type Chunk struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// Seq is the arrival sequence number assigned by the producer. Chunks are
	// played in Seq order; the sink never reorders.
	Seq uint64
}

// Duration returns the playback duration of the chunk for the given format.
func (c Chunk) Duration(sampleRate, channels int) time.Duration {
	bytesPerSecond := sampleRate * channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(c.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
