// Package elevenlabs provides an ElevenLabs-backed voice provider. The REST
// client covers Instant Voice Cloning and Conversational AI agent management;
// live sessions run over the ConvAI WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/voxmorph/voxmorph/pkg/provider/voice"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"

	voicesPath      = "/v1/voices"
	ivcCreatePath   = "/v1/voices/ivc/create"
	agentsPath      = "/v1/convai/agents"
	agentCreatePath = "/v1/convai/agents/create"
	signedURLPath   = "/v1/convai/conversation/get-signed-url"
)

// Option is a functional option for configuring the ElevenLabs Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests to point the client
// at a local server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements voice.Cloner and voice.AgentManager against the
// ElevenLabs REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ---- error mapping ----

// apiError is the error envelope returned by the ElevenLabs API.
type apiError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// mapAPIError converts a non-2xx response body into a Go error, preserving
// the provider's status code string so callers can match known conditions.
func mapAPIError(statusCode int, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Detail.Status != "" {
		if ae.Detail.Status == "voice_limit_reached" {
			return fmt.Errorf("elevenlabs: %s: %w", ae.Detail.Message, voice.ErrVoiceLimitReached)
		}
		return fmt.Errorf("elevenlabs: %s (status %d, %s)", ae.Detail.Message, statusCode, ae.Detail.Status)
	}
	return fmt.Errorf("elevenlabs: unexpected status %d", statusCode)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("xi-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// ---- voice catalogue ----

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// CloneVoice creates an Instant Voice Clone from a single audio sample. The
// sample must be an encoded audio file (WAV, MP3); raw PCM is rejected by the
// API. Returns voice.ErrVoiceLimitReached (wrapped) when the account has no
// free voice slots.
func (c *Client) CloneVoice(ctx context.Context, name string, sample io.Reader) (*voice.Voice, error) {
	if name == "" {
		return nil, errors.New("elevenlabs: voice name must not be empty")
	}
	if sample == nil {
		return nil, errors.New("elevenlabs: sample must not be nil")
	}

	var buf strings.Builder
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("name", name); err != nil {
		return nil, fmt.Errorf("elevenlabs: build clone request: %w", err)
	}
	fw, err := w.CreateFormFile("files", "sample.wav")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build clone request: %w", err)
	}
	if _, err := io.Copy(fw, sample); err != nil {
		return nil, fmt.Errorf("elevenlabs: read sample: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("elevenlabs: build clone request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ivcCreatePath, strings.NewReader(buf.String()))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: clone voice: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var created struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("elevenlabs: clone voice decode: %w", err)
	}
	return &voice.Voice{ID: created.VoiceID, Name: name, Category: "cloned"}, nil
}

// DeleteVoice removes a voice from the account.
func (c *Client) DeleteVoice(ctx context.Context, voiceID string) error {
	if voiceID == "" {
		return errors.New("elevenlabs: voiceID must not be empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+voicesPath+"/"+voiceID, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: delete voice: %w", err)
	}
	_, err = c.do(req)
	return err
}

// ListVoices returns all voices available for the configured API key.
func (c *Client) ListVoices(ctx context.Context) ([]voice.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return parseVoicesResponse(body)
}

// parseVoicesResponse parses the /v1/voices response body.
func parseVoicesResponse(data []byte) ([]voice.Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	voices := make([]voice.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		voices = append(voices, voice.Voice{ID: v.VoiceID, Name: v.Name, Category: v.Category})
	}
	return voices, nil
}

// ---- conversational agents ----

// elevenLabsAgent is a single agent entry from the ConvAI API.
type elevenLabsAgent struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// agentsResponse is the top-level response from GET /v1/convai/agents.
type agentsResponse struct {
	Agents []elevenLabsAgent `json:"agents"`
}

// agentCreateRequest is the payload for POST /v1/convai/agents/create.
type agentCreateRequest struct {
	Name               string              `json:"name"`
	ConversationConfig *conversationConfig `json:"conversation_config"`
}

type conversationConfig struct {
	Agent *agentConfig `json:"agent,omitempty"`
	TTS   *ttsConfig   `json:"tts,omitempty"`
}

type agentConfig struct {
	FirstMessage string        `json:"first_message,omitempty"`
	Language     string        `json:"language,omitempty"`
	Prompt       *promptConfig `json:"prompt,omitempty"`
}

type promptConfig struct {
	Prompt string `json:"prompt"`
}

type ttsConfig struct {
	VoiceID string `json:"voice_id"`
}

// buildAgentCreateRequest constructs the create-agent payload.
func buildAgentCreateRequest(cfg voice.AgentConfig) agentCreateRequest {
	return agentCreateRequest{
		Name: cfg.Name,
		ConversationConfig: &conversationConfig{
			Agent: &agentConfig{
				FirstMessage: cfg.FirstMessage,
				Language:     cfg.Language,
				Prompt:       &promptConfig{Prompt: cfg.SystemPrompt},
			},
			TTS: &ttsConfig{VoiceID: cfg.VoiceID},
		},
	}
}

// CreateAgent creates a new conversational agent with the given voice.
func (c *Client) CreateAgent(ctx context.Context, cfg voice.AgentConfig) (*voice.Agent, error) {
	if cfg.Name == "" {
		return nil, errors.New("elevenlabs: agent name must not be empty")
	}
	payload, err := json.Marshal(buildAgentCreateRequest(cfg))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create agent: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+agentCreatePath, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create agent: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var created struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("elevenlabs: create agent decode: %w", err)
	}
	return &voice.Agent{ID: created.AgentID, Name: cfg.Name}, nil
}

// UpdateAgentVoice points an existing agent at a different voice. Used after
// each call to swap in the freshly cloned voice without recreating the agent.
func (c *Client) UpdateAgentVoice(ctx context.Context, agentID, voiceID string) error {
	if agentID == "" || voiceID == "" {
		return errors.New("elevenlabs: agentID and voiceID must not be empty")
	}
	patch := conversationConfig{TTS: &ttsConfig{VoiceID: voiceID}}
	payload, err := json.Marshal(map[string]any{"conversation_config": patch})
	if err != nil {
		return fmt.Errorf("elevenlabs: update agent voice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+agentsPath+"/"+agentID, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("elevenlabs: update agent voice: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

// ListAgents returns all conversational agents for the account.
func (c *Client) ListAgents(ctx context.Context) ([]voice.Agent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+agentsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list agents: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var ar agentsResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("elevenlabs: list agents decode: %w", err)
	}
	agents := make([]voice.Agent, 0, len(ar.Agents))
	for _, a := range ar.Agents {
		agents = append(agents, voice.Agent{ID: a.AgentID, Name: a.Name})
	}
	return agents, nil
}

// FindAgentByName locates an agent by name, tolerating close misspellings.
func (c *Client) FindAgentByName(ctx context.Context, name string) (*voice.Agent, error) {
	agents, err := c.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	found, ok := voice.BestAgentMatch(name, agents)
	if !ok {
		return nil, fmt.Errorf("elevenlabs: no agent matching %q among %d agents", name, len(agents))
	}
	return &found, nil
}

// signedURL fetches a short-lived authenticated WebSocket URL for a
// conversation with the given agent.
func (c *Client) signedURL(ctx context.Context, agentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+signedURLPath+"?agent_id="+agentID, nil)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: signed url: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var sr struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("elevenlabs: signed url decode: %w", err)
	}
	if sr.SignedURL == "" {
		return "", errors.New("elevenlabs: empty signed url")
	}
	return sr.SignedURL, nil
}

// Ensure Client satisfies the provider interfaces at compile time.
var (
	_ voice.Cloner       = (*Client)(nil)
	_ voice.AgentManager = (*Client)(nil)
)
