// Package voice defines the provider interfaces for voice cloning and
// conversational agent backends.
//
// A voice provider wraps a hosted voice AI service (e.g., ElevenLabs) and
// exposes three concerns: cloning voices from recorded samples, managing
// conversational agents, and running a live audio session against an agent.
// The session is the latency-critical piece: its EndSession must be safe to
// call from any goroutine and idempotent, because call teardown may race with
// the session's own completion.
//
// Implementations must be safe for concurrent use.
package voice

import (
	"context"
	"errors"
	"io"

	"github.com/antzucaro/matchr"
	"github.com/voxmorph/voxmorph/pkg/audio"
)

// ErrVoiceLimitReached indicates the account has no free voice slots left.
// Callers can react by deleting an old cloned voice and retrying.
var ErrVoiceLimitReached = errors.New("voice: subscription voice slots exhausted")

// Voice is a single voice in the provider's catalogue.
type Voice struct {
	// ID is the provider-assigned voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Category distinguishes stock voices from user clones (e.g., "cloned").
	Category string
}

// Agent is a conversational agent configured on the provider.
type Agent struct {
	// ID is the provider-assigned agent identifier.
	ID string

	// Name is the human-readable agent name.
	Name string
}

// AgentConfig holds the settings for creating a conversational agent.
type AgentConfig struct {
	Name         string
	VoiceID      string
	FirstMessage string
	SystemPrompt string
	Language     string
}

// Cloner manages the provider's voice catalogue.
type Cloner interface {
	// CloneVoice creates a new voice from an audio sample (WAV or a
	// provider-supported encoded format). This is an expensive operation and
	// should not be called in the hot path. Returns ErrVoiceLimitReached
	// (possibly wrapped) when the account is out of voice slots.
	CloneVoice(ctx context.Context, name string, sample io.Reader) (*Voice, error)

	// DeleteVoice removes a voice from the catalogue.
	DeleteVoice(ctx context.Context, voiceID string) error

	// ListVoices returns the provider's current voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// AgentManager manages conversational agents on the provider.
type AgentManager interface {
	// CreateAgent creates a new agent and returns it with its assigned ID.
	CreateAgent(ctx context.Context, cfg AgentConfig) (*Agent, error)

	// UpdateAgentVoice points an existing agent at a different voice.
	UpdateAgentVoice(ctx context.Context, agentID, voiceID string) error

	// ListAgents returns all agents configured for the account.
	ListAgents(ctx context.Context) ([]Agent, error)
}

// Session is a live conversational audio session with an agent.
type Session interface {
	// SendAudio submits captured microphone PCM to the agent.
	SendAudio(ctx context.Context, pcm []byte) error

	// Chunks returns the channel of agent audio. The channel is closed when
	// the session ends, whether by EndSession or by the remote side.
	Chunks() <-chan audio.Chunk

	// EndSession closes the session and releases its network resources. It
	// may block on the remote close handshake for an unbounded time, so
	// callers that need a latency guarantee must supervise it. Safe to call
	// from any goroutine; subsequent calls return the first result.
	EndSession() error
}

// Dialer opens sessions against a conversational agent.
type Dialer interface {
	// StartSession connects to the given agent and begins streaming. The
	// returned session is live: agent audio is already flowing on Chunks.
	StartSession(ctx context.Context, agentID string) (Session, error)
}

// minMatchSimilarity is the Jaro-Winkler floor below which two agent names
// are not considered the same agent.
const minMatchSimilarity = 0.85

// BestAgentMatch finds the agent whose name best matches the wanted name.
// Exact matches win outright; otherwise the highest Jaro-Winkler similarity
// at or above 0.85 is returned. The second return is false when nothing
// matches well enough.
func BestAgentMatch(name string, agents []Agent) (Agent, bool) {
	var best Agent
	bestScore := 0.0
	for _, a := range agents {
		if a.Name == name {
			return a, true
		}
		score := matchr.JaroWinkler(name, a.Name, false)
		if score > bestScore {
			best = a
			bestScore = score
		}
	}
	if bestScore < minMatchSimilarity {
		return Agent{}, false
	}
	return best, true
}
