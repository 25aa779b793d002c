package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/voxmorph/voxmorph/pkg/audio"
	"github.com/voxmorph/voxmorph/pkg/provider/voice"
)

// ── WebSocket message types ────────────────────────────────────────────────────

// userAudioMessage carries one chunk of captured microphone audio upstream.
type userAudioMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// pongMessage answers a server ping.
type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// serverEvent is the union of all ConvAI server event payloads. Only the
// fields for the event's Type are populated.
type serverEvent struct {
	Type string `json:"type"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

// Session is a live ConvAI conversation. Agent audio arrives on Chunks;
// microphone audio goes up via SendAudio. EndSession performs the WebSocket
// close handshake, which waits on the remote side and therefore has no
// latency bound of its own.
type Session struct {
	conn   *websocket.Conn
	chunks chan audio.Chunk
	log    *slog.Logger

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	endOnce   sync.Once
	endErr    error
	readDone  chan struct{}
}

// StartSession connects to the ConvAI endpoint for the given agent and begins
// streaming. Authentication goes through the signed-URL endpoint, so the API
// key never appears in the WebSocket URL.
func (c *Client) StartSession(ctx context.Context, agentID string) (voice.Session, error) {
	if agentID == "" {
		return nil, fmt.Errorf("elevenlabs: agentID must not be empty")
	}
	wsURL, err := c.signedURL(ctx, agentID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial conversation: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		conn:     conn,
		chunks:   make(chan audio.Chunk, 256),
		log:      slog.Default().With(slog.String("component", "elevenlabs.session"), slog.String("agent_id", agentID)),
		ctx:      sessCtx,
		cancel:   cancel,
		readDone: make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// the chunks channel and closes it when it exits.
func (s *Session) receiveLoop() {
	defer close(s.readDone)
	defer s.closeChannels()

	var seq uint64
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleServerEvent(&evt, &seq)
	}
}

func (s *Session) handleServerEvent(evt *serverEvent, seq *uint64) {
	switch evt.Type {
	case "audio":
		if evt.AudioEvent == nil || evt.AudioEvent.AudioBase64 == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.AudioEvent.AudioBase64)
		if err != nil || len(pcm) == 0 {
			return
		}
		chunk := audio.Chunk{Data: pcm, Seq: *seq}
		*seq++
		select {
		case s.chunks <- chunk:
		case <-s.ctx.Done():
		}

	case "ping":
		if evt.PingEvent == nil {
			return
		}
		_ = s.writeJSON(pongMessage{Type: "pong", EventID: evt.PingEvent.EventID})

	case "agent_response":
		if evt.AgentResponseEvent != nil {
			s.log.Debug("agent response", slog.String("text", evt.AgentResponseEvent.AgentResponse))
		}

	case "user_transcript":
		if evt.UserTranscriptionEvent != nil {
			s.log.Debug("user transcript", slog.String("text", evt.UserTranscriptionEvent.UserTranscript))
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.chunks)
	})
}

// SendAudio delivers one chunk of little-endian int16 PCM to the agent.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("elevenlabs: session closed")
	}
	s.mu.Unlock()

	data, err := json.Marshal(userAudioMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Chunks returns the channel of agent audio. Closed when the session ends.
func (s *Session) Chunks() <-chan audio.Chunk { return s.chunks }

// Err returns the first non-nil error that caused the session to terminate.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// EndSession performs the WebSocket close handshake and waits for the
// receive loop to drain. The handshake waits on the remote peer, so this can
// block for an arbitrary time on a dead connection; callers needing a bound
// must supervise it. Subsequent calls return the first result.
func (s *Session) EndSession() error {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.endErr = s.conn.Close(websocket.StatusNormalClosure, "session ended")
		s.cancel()
		<-s.readDone
	})
	return s.endErr
}

var _ voice.Session = (*Session)(nil)
