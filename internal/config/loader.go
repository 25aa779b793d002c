package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// ELEVENLABS_API_KEY environment fallback, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if cfg.ElevenLabs.APIKey == "" {
		cfg.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.ElevenLabs.APIKey == "" {
		errs = append(errs, errors.New("elevenlabs.api_key is required (or set ELEVENLABS_API_KEY)"))
	}

	if cfg.Audio.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must be positive", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.StreamSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.stream_sample_rate %d must be positive", cfg.Audio.StreamSampleRate))
	}
	if cfg.Audio.InputChannels < 1 || cfg.Audio.InputChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.input_channels %d is out of range [1, 2]", cfg.Audio.InputChannels))
	}
	if cfg.Audio.StreamChannels < 1 || cfg.Audio.StreamChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.stream_channels %d is out of range [1, 2]", cfg.Audio.StreamChannels))
	}

	if cfg.Call.TeardownCeiling < 0 {
		errs = append(errs, fmt.Errorf("call.teardown_ceiling %v must not be negative", cfg.Call.TeardownCeiling))
	}

	if cfg.Recording.SilenceThreshold < 0 || cfg.Recording.SilenceThreshold > math.MaxInt16 {
		errs = append(errs, fmt.Errorf("recording.silence_threshold %.0f is out of range [0, %d]", cfg.Recording.SilenceThreshold, math.MaxInt16))
	}
	if cfg.Recording.TargetSpeech < 0 || cfg.Recording.MaxTotal < 0 {
		errs = append(errs, errors.New("recording durations must not be negative"))
	}
	if cfg.Recording.MaxTotal > 0 && cfg.Recording.TargetSpeech > cfg.Recording.MaxTotal {
		errs = append(errs, fmt.Errorf("recording.target_speech %v exceeds recording.max_total %v", cfg.Recording.TargetSpeech, cfg.Recording.MaxTotal))
	}
	if cfg.Recording.SilenceDebounce < cfg.Recording.MinSpeechRun {
		errs = append(errs, fmt.Errorf("recording.silence_debounce %v is shorter than recording.min_speech_run %v", cfg.Recording.SilenceDebounce, cfg.Recording.MinSpeechRun))
	}

	return errors.Join(errs...)
}
