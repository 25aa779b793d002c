// Package config provides the configuration schema, loader, and file watcher
// for the voxmorph call utility.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxmorph.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Audio      AudioConfig      `yaml:"audio"`
	Call       CallConfig       `yaml:"call"`
	Recording  RecordingConfig  `yaml:"recording"`
	History    HistoryConfig    `yaml:"history"`
}

// ServerConfig holds the optional HTTP control surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the health/metrics/control listener
	// (e.g., ":8080"). Empty disables the HTTP surface entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ElevenLabsConfig holds credentials and agent settings for the ElevenLabs API.
type ElevenLabsConfig struct {
	// APIKey authenticates against the ElevenLabs API. When empty, the
	// ELEVENLABS_API_KEY environment variable is consulted at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default API endpoint. Leave empty for production.
	BaseURL string `yaml:"base_url"`

	// AgentName is the conversational agent to call. Matched fuzzily against
	// the account's agent list; created when no close match exists.
	AgentName string `yaml:"agent_name"`

	// AgentLanguage is the agent's conversation language code (e.g., "en").
	AgentLanguage string `yaml:"agent_language"`

	// AgentPrompt is the system prompt used when the agent must be created.
	AgentPrompt string `yaml:"agent_prompt"`

	// FirstMessage is the greeting the agent speaks when the call connects.
	FirstMessage string `yaml:"first_message"`

	// BaselineVoice names the protected clone that rotation never deletes.
	BaselineVoice string `yaml:"baseline_voice"`
}

// AudioConfig holds sample formats for the microphone and the agent stream.
type AudioConfig struct {
	// InputSampleRate is the microphone capture rate in Hz.
	InputSampleRate int `yaml:"input_sample_rate"`

	// InputChannels is the microphone channel count.
	InputChannels int `yaml:"input_channels"`

	// StreamSampleRate is the PCM rate the agent session sends and expects.
	StreamSampleRate int `yaml:"stream_sample_rate"`

	// StreamChannels is the agent stream channel count.
	StreamChannels int `yaml:"stream_channels"`
}

// CallConfig holds call lifecycle settings.
type CallConfig struct {
	// TeardownCeiling bounds how long hangup waits for the provider session
	// to close before abandoning it.
	TeardownCeiling time.Duration `yaml:"teardown_ceiling"`
}

// RecordingConfig holds voice-sample capture settings.
type RecordingConfig struct {
	// OutputDir is where captured WAV samples are written.
	OutputDir string `yaml:"output_dir"`

	// TargetSpeech is how much actual speech to collect per sample.
	TargetSpeech time.Duration `yaml:"target_speech"`

	// MaxTotal caps wall-clock recording time regardless of speech collected.
	MaxTotal time.Duration `yaml:"max_total"`

	// SilenceThreshold is the RMS amplitude below which a frame counts as
	// silence, in int16 sample units.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MinSpeechRun is the shortest burst of loud frames counted as speech.
	MinSpeechRun time.Duration `yaml:"min_speech_run"`

	// SilenceDebounce is how long silence must last before capture pauses.
	SilenceDebounce time.Duration `yaml:"silence_debounce"`
}

// HistoryConfig holds call-history persistence settings.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty keeps history in memory only.
	Path string `yaml:"path"`
}

// ApplyDefaults fills zero-valued fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.ElevenLabs.AgentName == "" {
		c.ElevenLabs.AgentName = "Voxmorph Agent"
	}
	if c.ElevenLabs.AgentLanguage == "" {
		c.ElevenLabs.AgentLanguage = "en"
	}
	if c.ElevenLabs.BaselineVoice == "" {
		c.ElevenLabs.BaselineVoice = "Voice_01_Clone"
	}
	if c.Audio.InputSampleRate == 0 {
		c.Audio.InputSampleRate = 44100
	}
	if c.Audio.InputChannels == 0 {
		c.Audio.InputChannels = 1
	}
	if c.Audio.StreamSampleRate == 0 {
		c.Audio.StreamSampleRate = 16000
	}
	if c.Audio.StreamChannels == 0 {
		c.Audio.StreamChannels = 1
	}
	if c.Call.TeardownCeiling == 0 {
		c.Call.TeardownCeiling = 2 * time.Second
	}
	if c.Recording.OutputDir == "" {
		c.Recording.OutputDir = "recordings"
	}
	if c.Recording.TargetSpeech == 0 {
		c.Recording.TargetSpeech = 20 * time.Second
	}
	if c.Recording.MaxTotal == 0 {
		c.Recording.MaxTotal = 2 * time.Minute
	}
	if c.Recording.SilenceThreshold == 0 {
		c.Recording.SilenceThreshold = 500
	}
	if c.Recording.MinSpeechRun == 0 {
		c.Recording.MinSpeechRun = 300 * time.Millisecond
	}
	if c.Recording.SilenceDebounce == 0 {
		c.Recording.SilenceDebounce = 1500 * time.Millisecond
	}
}
