// Package mock provides in-memory mock implementations of the
// [audio.OutputStream] and [audio.InputStream] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and written data, and expose exported
// fields the test can set to control return values and simulated latency.
//
// Typical usage:
//
//	out := &mock.OutputStream{WriteDelay: 20 * time.Millisecond}
//	snk := sink.New(sink.Config{Stream: out})
//	// ... exercise the sink ...
//	if out.CallCountStop != 1 { t.Fatal(...) }
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/voxmorph/voxmorph/pkg/audio"
)

// ─── OutputStream ─────────────────────────────────────────────────────────────

// OutputStream is a mock implementation of [audio.OutputStream].
// Set the exported fields before use; inspect the CallCount* fields after.
type OutputStream struct {
	mu sync.Mutex

	// StartError is returned by Start.
	StartError error

	// WriteError is returned by Write.
	WriteError error

	// StopError is returned by Stop. The state transition to stopped happens
	// regardless, mirroring a driver that faults after halting output.
	StopError error

	// CloseError is returned by the first Close call.
	CloseError error

	// WriteDelay simulates playback pacing: each Write sleeps this long
	// unless Stop is called first, in which case Write returns immediately.
	WriteDelay time.Duration

	// StopDelay simulates a slow driver stop. Real drivers abort without
	// draining; keep this at zero for interrupt latency tests.
	StopDelay time.Duration

	// Written accumulates all PCM passed to Write, in order.
	Written [][]byte

	// CallCountStart, CallCountWrite, CallCountStop, CallCountClose record
	// how many times each method was called.
	CallCountStart int
	CallCountWrite int
	CallCountStop  int
	CallCountClose int

	state   audio.StreamState
	closed  bool
	stopped chan struct{}
}

// Start implements [audio.OutputStream].
func (s *OutputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	if s.closed {
		return errors.New("mock: output stream is closed")
	}
	if s.state != audio.StreamActive {
		s.state = audio.StreamActive
		s.stopped = make(chan struct{})
	}
	return nil
}

// Write implements [audio.OutputStream]. It records the data, then sleeps
// WriteDelay or until Stop, whichever comes first.
func (s *OutputStream) Write(pcm []byte) error {
	s.mu.Lock()
	s.CallCountWrite++
	if s.WriteError != nil {
		s.mu.Unlock()
		return s.WriteError
	}
	if s.closed || s.state != audio.StreamActive {
		s.mu.Unlock()
		return errors.New("mock: write on inactive stream")
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Written = append(s.Written, cp)
	delay := s.WriteDelay
	stopped := s.stopped
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-stopped:
		}
	}
	return nil
}

// Stop implements [audio.OutputStream]. The transition to [audio.StreamStopped]
// always happens; StopError is returned afterwards if set.
func (s *OutputStream) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	if s.StopDelay > 0 {
		d := s.StopDelay
		s.mu.Unlock()
		time.Sleep(d)
		s.mu.Lock()
	}
	if s.state == audio.StreamActive {
		s.state = audio.StreamStopped
		close(s.stopped)
	}
	err := s.StopError
	s.mu.Unlock()
	return err
}

// Close implements [audio.OutputStream]. Idempotent: only the first call
// returns CloseError.
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	if s.state == audio.StreamActive {
		s.state = audio.StreamStopped
		close(s.stopped)
	}
	return s.CloseError
}

// State implements [audio.OutputStream].
func (s *OutputStream) State() audio.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// ErrInputExhausted is returned by [InputStream.Read] when all configured
// frames have been consumed.
var ErrInputExhausted = errors.New("mock: input stream exhausted")

// InputStream is a mock implementation of [audio.InputStream] that replays a
// fixed sequence of frames.
type InputStream struct {
	mu sync.Mutex

	// Frames is the sequence returned by successive Read calls.
	Frames []audio.Frame

	// ReadDelay is slept before each Read returns, simulating capture pacing.
	ReadDelay time.Duration

	// ReadError, when set, is returned by every Read.
	ReadError error

	// CallCountStart, CallCountRead, CallCountStop, CallCountClose record
	// how many times each method was called.
	CallCountStart int
	CallCountRead  int
	CallCountStop  int
	CallCountClose int

	next    int
	stopped bool
	closed  bool
}

// Start implements [audio.InputStream].
func (s *InputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.closed {
		return errors.New("mock: input stream is closed")
	}
	s.stopped = false
	return nil
}

// Read implements [audio.InputStream]. Returns the next configured frame, or
// [ErrInputExhausted] once all frames are consumed. A stopped or closed
// stream returns an error immediately.
func (s *InputStream) Read() (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountRead++
	if s.ReadError != nil {
		err := s.ReadError
		s.mu.Unlock()
		return audio.Frame{}, err
	}
	if s.stopped || s.closed {
		s.mu.Unlock()
		return audio.Frame{}, errors.New("mock: read on inactive stream")
	}
	if s.next >= len(s.Frames) {
		s.mu.Unlock()
		return audio.Frame{}, ErrInputExhausted
	}
	frame := s.Frames[s.next]
	s.next++
	delay := s.ReadDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return frame, nil
}

// Stop implements [audio.InputStream].
func (s *InputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.stopped = true
	return nil
}

// Close implements [audio.InputStream]. Idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.stopped = true
	return nil
}

// Interface guards.
var (
	_ audio.OutputStream = (*OutputStream)(nil)
	_ audio.InputStream  = (*InputStream)(nil)
)
