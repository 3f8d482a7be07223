// Package config provides the configuration schema, loader, and validation
// for the Parlance transcription server.
package config

// LogLevel controls log verbosity for the server.
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

// EngineKind selects the transcription backend.
type EngineKind string

const (
	// EngineWhisperNative runs whisper.cpp in-process.
	EngineWhisperNative EngineKind = "whisper-native"

	// EngineOpenAI sends audio to the OpenAI transcription API.
	EngineOpenAI EngineKind = "openai"
)

// IsValid reports whether e is a recognised engine kind.
func (e EngineKind) IsValid() bool {
	return e == EngineWhisperNative || e == EngineOpenAI
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server            ServerConfig      `yaml:"server"`
	Auth              AuthConfig        `yaml:"auth"`
	MainTranscriber   TranscriberConfig `yaml:"main_transcriber"`
	LiveTranscriber   LiveConfig        `yaml:"live_transcriber"`
	Diarization       DiarizationConfig `yaml:"diarization"`
	Archive           ArchiveConfig     `yaml:"archive"`
	LongformRecording LongformConfig    `yaml:"longform_recording"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AuthConfig locates the token store.
type AuthConfig struct {
	// TokensFile is the path to a YAML file mapping tokens to client
	// identities. When empty, only localhost connections are accepted.
	TokensFile string `yaml:"tokens_file"`
}

// TranscriberConfig configures the main (file and per-utterance) transcriber
// together with the voice-activity tuning of the recorder pipeline.
type TranscriberConfig struct {
	// Engine selects the backend: whisper-native or openai.
	Engine EngineKind `yaml:"engine"`

	// Model is the model name or path understood by the engine.
	Model string `yaml:"model"`

	// APIKey authenticates against the remote engine. Ignored by
	// whisper-native. Falls back to the OPENAI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the remote engine's API endpoint.
	BaseURL string `yaml:"base_url"`

	// Device selects the compute device (cpu, cuda). Native engine only.
	Device string `yaml:"device"`

	// ComputeType selects the inference precision (e.g., float16, int8).
	ComputeType string `yaml:"compute_type"`

	// BeamSize is the decoder beam width. 0 uses the engine default.
	BeamSize int `yaml:"beam_size"`

	// BatchSize is the decode batch size. 0 uses the engine default.
	BatchSize int `yaml:"batch_size"`

	// SileroSensitivity tunes the neural VAD in [0, 1]; higher triggers on
	// quieter speech.
	SileroSensitivity float64 `yaml:"silero_sensitivity"`

	// WebRTCSensitivity tunes the energy VAD aggressiveness in [0, 3].
	WebRTCSensitivity int `yaml:"webrtc_sensitivity"`

	// SileroModel is the path to the silero VAD ONNX model.
	SileroModel string `yaml:"silero_model"`

	// PostSpeechSilenceDuration is seconds of silence that end an utterance.
	PostSpeechSilenceDuration float64 `yaml:"post_speech_silence_duration"`

	// PreRecordingBufferDuration is seconds of audio kept before speech onset.
	PreRecordingBufferDuration float64 `yaml:"pre_recording_buffer_duration"`

	// MinLengthOfRecording is the minimum utterance length in seconds; shorter
	// recordings are discarded.
	MinLengthOfRecording float64 `yaml:"min_length_of_recording"`

	// MinGapBetweenRecordings is the refractory period in seconds after a
	// recording stops before a new one may start.
	MinGapBetweenRecordings float64 `yaml:"min_gap_between_recordings"`

	// MaxContinuousSilence is seconds of in-recording silence after which a
	// manual recording enters trimming mode.
	MaxContinuousSilence float64 `yaml:"max_continuous_silence"`
}

// LiveConfig configures the optional low-latency preview transcriber.
type LiveConfig struct {
	// Enabled turns the live preview pipeline on.
	Enabled bool `yaml:"enabled"`

	// Model is the model name or path for the live engine.
	Model string `yaml:"model"`

	// PostSpeechSilenceDuration is the (shorter) silence window for previews.
	PostSpeechSilenceDuration float64 `yaml:"post_speech_silence_duration"`

	// EarlyTranscriptionOnSilence triggers a preview after this many seconds
	// of silence, before the utterance is finalized.
	EarlyTranscriptionOnSilence float64 `yaml:"early_transcription_on_silence"`
}

// DiarizationConfig configures speaker diarization of file uploads.
type DiarizationConfig struct {
	// SegmentationModel is the path to the pyannote segmentation ONNX model.
	SegmentationModel string `yaml:"segmentation_model"`

	// EmbeddingModel is the path to the speaker embedding ONNX model.
	EmbeddingModel string `yaml:"embedding_model"`

	// ClusteringThreshold tunes speaker clustering in (0, 1). 0 uses the default.
	ClusteringThreshold float64 `yaml:"clustering_threshold"`
}

// ArchiveConfig configures the optional recording archive.
type ArchiveConfig struct {
	// PostgresDSN is the connection string for the archive database.
	// When empty, recordings are not persisted.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LongformConfig holds defaults for long-form manual recordings.
type LongformConfig struct {
	// Language forces a transcription language (ISO 639-1). Empty means
	// auto-detect.
	Language string `yaml:"language"`
}
