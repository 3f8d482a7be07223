package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to fields left at their zero value.
const (
	DefaultListenAddr                = ":8080"
	DefaultPostSpeechSilence         = 0.6
	DefaultPreRecordingBuffer        = 0.2
	DefaultMinLengthOfRecording      = 0.5
	DefaultMinGapBetweenRecordings   = 1.0
	DefaultMaxContinuousSilence      = 5.0
	DefaultSileroSensitivity         = 0.4
	DefaultWebRTCSensitivity         = 3
	DefaultLivePostSpeechSilence     = 0.3
	DefaultEarlyTranscriptionSilence = 0.15
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	mt := &cfg.MainTranscriber
	if mt.Engine == "" {
		mt.Engine = EngineWhisperNative
	}
	if mt.SileroSensitivity == 0 {
		mt.SileroSensitivity = DefaultSileroSensitivity
	}
	if mt.PostSpeechSilenceDuration == 0 {
		mt.PostSpeechSilenceDuration = DefaultPostSpeechSilence
	}
	if mt.PreRecordingBufferDuration == 0 {
		mt.PreRecordingBufferDuration = DefaultPreRecordingBuffer
	}
	if mt.MinLengthOfRecording == 0 {
		mt.MinLengthOfRecording = DefaultMinLengthOfRecording
	}
	if mt.MinGapBetweenRecordings == 0 {
		mt.MinGapBetweenRecordings = DefaultMinGapBetweenRecordings
	}
	if mt.MaxContinuousSilence == 0 {
		mt.MaxContinuousSilence = DefaultMaxContinuousSilence
	}

	lt := &cfg.LiveTranscriber
	if lt.PostSpeechSilenceDuration == 0 {
		lt.PostSpeechSilenceDuration = DefaultLivePostSpeechSilence
	}
	if lt.EarlyTranscriptionOnSilence == 0 {
		lt.EarlyTranscriptionOnSilence = DefaultEarlyTranscriptionSilence
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	mt := cfg.MainTranscriber
	if !mt.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("main_transcriber.engine %q is invalid; valid values: whisper-native, openai", mt.Engine))
	}
	if mt.Engine == EngineWhisperNative && mt.Model == "" {
		errs = append(errs, errors.New("main_transcriber.model is required for the whisper-native engine"))
	}
	if mt.SileroSensitivity < 0 || mt.SileroSensitivity > 1 {
		errs = append(errs, fmt.Errorf("main_transcriber.silero_sensitivity %.2f is out of range [0, 1]", mt.SileroSensitivity))
	}
	if mt.WebRTCSensitivity < 0 || mt.WebRTCSensitivity > 3 {
		errs = append(errs, fmt.Errorf("main_transcriber.webrtc_sensitivity %d is out of range [0, 3]", mt.WebRTCSensitivity))
	}
	if mt.BeamSize < 0 {
		errs = append(errs, fmt.Errorf("main_transcriber.beam_size %d must not be negative", mt.BeamSize))
	}
	for _, d := range []struct {
		key string
		val float64
	}{
		{"main_transcriber.post_speech_silence_duration", mt.PostSpeechSilenceDuration},
		{"main_transcriber.pre_recording_buffer_duration", mt.PreRecordingBufferDuration},
		{"main_transcriber.min_length_of_recording", mt.MinLengthOfRecording},
		{"main_transcriber.min_gap_between_recordings", mt.MinGapBetweenRecordings},
		{"main_transcriber.max_continuous_silence", mt.MaxContinuousSilence},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s %.2f must not be negative", d.key, d.val))
		}
	}

	lt := cfg.LiveTranscriber
	if lt.Enabled && lt.Model == "" {
		errs = append(errs, errors.New("live_transcriber.model is required when live_transcriber.enabled is true"))
	}

	dz := cfg.Diarization
	if (dz.SegmentationModel == "") != (dz.EmbeddingModel == "") {
		errs = append(errs, errors.New("diarization requires both segmentation_model and embedding_model"))
	}
	if dz.ClusteringThreshold < 0 || dz.ClusteringThreshold >= 1 {
		errs = append(errs, fmt.Errorf("diarization.clustering_threshold %.2f is out of range [0, 1)", dz.ClusteringThreshold))
	}

	// Soft issues only warn.
	if cfg.Auth.TokensFile == "" {
		slog.Warn("auth.tokens_file is empty; only localhost connections will be accepted")
	}
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; recordings will not be persisted")
	}

	return errors.Join(errs...)
}
