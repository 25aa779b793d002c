// Package mock provides test doubles for the voice provider interfaces.
//
// Use Session to simulate a live conversation whose EndSession latency and
// outcome are controlled by the test, and Dialer to hand such sessions to a
// call controller. Cloner covers the voice catalogue methods.
//
// Example:
//
//	sess := mock.NewSession()
//	sess.EndDelay = 5 * time.Second // simulate a hung close handshake
//	d := &mock.Dialer{Session: sess}
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/voxmorph/voxmorph/pkg/audio"
	"github.com/voxmorph/voxmorph/pkg/provider/voice"
)

// Session is a mock implementation of voice.Session.
type Session struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// EndDelay is how long EndSession blocks before returning. Zero means it
	// returns immediately.
	EndDelay time.Duration

	// EndError is returned by EndSession after EndDelay elapses.
	EndError error

	// SendError, if non-nil, is returned by SendAudio.
	SendError error

	// --- Call records ---

	// EndSessionCalls counts invocations of EndSession, including ones
	// coalesced into the first result.
	EndSessionCalls int

	// Sent records every PCM payload passed to SendAudio.
	Sent [][]byte

	chunks  chan audio.Chunk
	endOnce sync.Once
	endErr  error
}

// NewSession returns a Session with an open chunk channel.
func NewSession() *Session {
	return &Session{chunks: make(chan audio.Chunk, 64)}
}

// EmitChunk places an agent audio chunk on the Chunks channel.
func (s *Session) EmitChunk(c audio.Chunk) {
	s.chunks <- c
}

// CloseChunks closes the Chunks channel, simulating session end from the
// remote side.
func (s *Session) CloseChunks() {
	close(s.chunks)
}

// SendAudio records the payload and returns SendError.
func (s *Session) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Sent = append(s.Sent, cp)
	return s.SendError
}

// Chunks returns the mock chunk channel.
func (s *Session) Chunks() <-chan audio.Chunk { return s.chunks }

// EndSession blocks for EndDelay, then returns EndError. Subsequent calls
// return the first result without blocking again.
func (s *Session) EndSession() error {
	s.mu.Lock()
	s.EndSessionCalls++
	s.mu.Unlock()

	s.endOnce.Do(func() {
		if s.EndDelay > 0 {
			time.Sleep(s.EndDelay)
		}
		s.endErr = s.EndError
	})
	return s.endErr
}

// EndCalls returns the number of EndSession invocations so far. Safe to poll
// while the session is still in use.
func (s *Session) EndCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndSessionCalls
}

// SentCount returns the number of SendAudio invocations so far. Safe to poll
// while the session is still in use.
func (s *Session) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// Dialer is a mock implementation of voice.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Session is returned by StartSession. If nil, a fresh NewSession is
	// returned per call.
	Session *Session

	// StartError, if non-nil, is returned by StartSession instead.
	StartError error

	// StartDelay is how long StartSession blocks before returning.
	StartDelay time.Duration

	// StartSessionCalls records the agent IDs passed to StartSession.
	StartSessionCalls []string
}

// StartSession records the call and returns the configured session.
func (d *Dialer) StartSession(ctx context.Context, agentID string) (voice.Session, error) {
	d.mu.Lock()
	d.StartSessionCalls = append(d.StartSessionCalls, agentID)
	sess := d.Session
	delay := d.StartDelay
	err := d.StartError
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = NewSession()
	}
	return sess, nil
}

// Cloner is a mock implementation of voice.Cloner.
type Cloner struct {
	mu sync.Mutex

	// CloneVoiceResult is returned by CloneVoice. May be nil.
	CloneVoiceResult *voice.Voice

	// CloneVoiceErr, if non-nil, is returned as the error from CloneVoice.
	CloneVoiceErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []voice.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// DeleteVoiceErr, if non-nil, is returned as the error from DeleteVoice.
	DeleteVoiceErr error

	// ClonedNames records the names passed to CloneVoice.
	ClonedNames []string

	// DeletedIDs records the voice IDs passed to DeleteVoice.
	DeletedIDs []string
}

// CloneVoice records the call and returns the configured result.
func (c *Cloner) CloneVoice(_ context.Context, name string, sample io.Reader) (*voice.Voice, error) {
	if sample != nil {
		io.Copy(io.Discard, sample)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClonedNames = append(c.ClonedNames, name)
	return c.CloneVoiceResult, c.CloneVoiceErr
}

// DeleteVoice records the call and returns DeleteVoiceErr.
func (c *Cloner) DeleteVoice(_ context.Context, voiceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeletedIDs = append(c.DeletedIDs, voiceID)
	return c.DeleteVoiceErr
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (c *Cloner) ListVoices(_ context.Context) ([]voice.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ListVoicesResult, c.ListVoicesErr
}

// AgentManager is a mock implementation of voice.AgentManager.
type AgentManager struct {
	mu sync.Mutex

	// CreateAgentResult is returned by CreateAgent. May be nil.
	CreateAgentResult *voice.Agent

	// CreateAgentErr, if non-nil, is returned as the error from CreateAgent.
	CreateAgentErr error

	// UpdateAgentVoiceErr, if non-nil, is returned by UpdateAgentVoice.
	UpdateAgentVoiceErr error

	// ListAgentsResult is returned by ListAgents.
	ListAgentsResult []voice.Agent

	// ListAgentsErr, if non-nil, is returned as the error from ListAgents.
	ListAgentsErr error

	// UpdatedVoices records (agentID, voiceID) pairs passed to UpdateAgentVoice.
	UpdatedVoices [][2]string
}

// CreateAgent returns the configured result.
func (m *AgentManager) CreateAgent(_ context.Context, cfg voice.AgentConfig) (*voice.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateAgentResult, m.CreateAgentErr
}

// UpdateAgentVoice records the call and returns UpdateAgentVoiceErr.
func (m *AgentManager) UpdateAgentVoice(_ context.Context, agentID, voiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdatedVoices = append(m.UpdatedVoices, [2]string{agentID, voiceID})
	return m.UpdateAgentVoiceErr
}

// ListAgents returns ListAgentsResult, ListAgentsErr.
func (m *AgentManager) ListAgents(_ context.Context) ([]voice.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListAgentsResult, m.ListAgentsErr
}

// Ensure the mocks implement the provider interfaces at compile time.
var (
	_ voice.Session      = (*Session)(nil)
	_ voice.Dialer       = (*Dialer)(nil)
	_ voice.Cloner       = (*Cloner)(nil)
	_ voice.AgentManager = (*AgentManager)(nil)
)
