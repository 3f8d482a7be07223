// Command parlance is the speech-to-text transcription server: a WebSocket
// streaming endpoint with VAD-driven utterance detection plus a REST API for
// file transcription.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmikkelsen/parlance/internal/archive"
	"github.com/lmikkelsen/parlance/internal/auth"
	"github.com/lmikkelsen/parlance/internal/config"
	"github.com/lmikkelsen/parlance/internal/health"
	"github.com/lmikkelsen/parlance/internal/jobs"
	"github.com/lmikkelsen/parlance/internal/models"
	"github.com/lmikkelsen/parlance/internal/observe"
	"github.com/lmikkelsen/parlance/internal/recorder"
	"github.com/lmikkelsen/parlance/internal/server"
	"github.com/lmikkelsen/parlance/internal/session"
	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/vad"
	"github.com/lmikkelsen/parlance/pkg/provider/vad/dual"
	"github.com/lmikkelsen/parlance/pkg/provider/vad/energy"
	"github.com/lmikkelsen/parlance/pkg/provider/vad/silero"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlance: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlance: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parlance starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"engine", cfg.MainTranscriber.Engine,
		"model", cfg.MainTranscriber.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parlance",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Token store ───────────────────────────────────────────────────────────
	store := auth.NewStore()
	if cfg.Auth.TokensFile != "" {
		store, err = auth.LoadStore(cfg.Auth.TokensFile)
		if err != nil {
			slog.Error("failed to load token store", "err", err)
			return 1
		}
	} else {
		slog.Warn("no tokens file configured; only localhost connections are accepted")
	}

	// ── Recording archive (optional) ──────────────────────────────────────────
	var (
		archiveStore archive.Store
		pg           *archive.PostgresStore
	)
	if cfg.Archive.PostgresDSN != "" {
		pg, err = archive.NewPostgresStore(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to archive database", "err", err)
			return 1
		}
		defer pg.Close()
		archiveStore = pg
		slog.Info("recording archive enabled")
	}

	// ── Model manager ─────────────────────────────────────────────────────────
	tracker := jobs.NewTracker()
	factory := &models.ConfigFactory{
		Main:        cfg.MainTranscriber,
		Live:        cfg.LiveTranscriber,
		Diarization: cfg.Diarization,
	}
	modelMgr, err := models.NewManager(models.Config{
		MainModel:   cfg.MainTranscriber.Model,
		LiveModel:   cfg.LiveTranscriber.Model,
		LiveEnabled: cfg.LiveTranscriber.Enabled,
		Device:      cfg.MainTranscriber.Device,
	}, factory, tracker)
	if err != nil {
		slog.Error("failed to create model manager", "err", err)
		return 1
	}
	defer modelMgr.UnloadAll()

	// ── VAD detector factory ──────────────────────────────────────────────────
	newDetector, err := detectorFactory(cfg.MainTranscriber)
	if err != nil {
		slog.Error("failed to set up voice activity detection", "err", err)
		return 1
	}

	// ── Session manager ───────────────────────────────────────────────────────
	sessions := session.NewManager(session.ManagerConfig{
		Store:       store,
		Models:      modelMgr,
		Tracker:     tracker,
		Archive:     archiveStore,
		NewDetector: newDetector,
		Recorder: recorder.Config{
			PreRecordingBuffer:   secs(cfg.MainTranscriber.PreRecordingBufferDuration),
			PostSpeechSilence:    secs(cfg.MainTranscriber.PostSpeechSilenceDuration),
			MinRecordingLength:   secs(cfg.MainTranscriber.MinLengthOfRecording),
			MinGap:               secs(cfg.MainTranscriber.MinGapBetweenRecordings),
			MaxContinuousSilence: secs(cfg.MainTranscriber.MaxContinuousSilence),
		},
		DefaultLanguage: cfg.LongformRecording.Language,
		LiveEnabled:     cfg.LiveTranscriber.Enabled,
		EngineName:      string(cfg.MainTranscriber.Engine),
		PreviewInterval: secs(cfg.LiveTranscriber.PostSpeechSilenceDuration),
		PreviewMinNew:   secs(cfg.LiveTranscriber.EarlyTranscriptionOnSilence),
	})

	// ── Health checks ─────────────────────────────────────────────────────────
	var checkers []health.Checker
	if cfg.MainTranscriber.Engine == config.EngineWhisperNative {
		checkers = append(checkers, health.ModelFile(cfg.MainTranscriber.Model))
	}
	if pg != nil {
		checkers = append(checkers, health.Archive(pg))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		Store:          store,
		Sessions:       sessions,
		Models:         modelMgr,
		Tracker:        tracker,
		Archive:        archiveStore,
		EngineName:     string(cfg.MainTranscriber.Engine),
		HealthCheckers: checkers,
	})

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// detectorFactory builds the per-session VAD constructor. With a Silero model
// configured each session gets a dual detector: cheap energy gating in front
// of the neural model. Without one, energy-only.
func detectorFactory(tc config.TranscriberConfig) (session.DetectorFactory, error) {
	vadCfg := vad.Config{
		SampleRate:        audio.TargetRate,
		FrameSize:         512,
		EnergySensitivity: tc.WebRTCSensitivity,
		NeuralSensitivity: tc.SileroSensitivity,
	}
	energyEng := &energy.Engine{}

	if tc.SileroModel == "" {
		return func() (vad.Detector, error) {
			return energyEng.NewDetector(vadCfg)
		}, nil
	}

	sileroEng, err := silero.New(tc.SileroModel)
	if err != nil {
		return nil, err
	}
	return func() (vad.Detector, error) {
		fast, err := energyEng.NewDetector(vadCfg)
		if err != nil {
			return nil, err
		}
		neural, err := sileroEng.NewDetector(vadCfg)
		if err != nil {
			fast.Close()
			return nil, err
		}
		return dual.New(fast, neural)
	}, nil
}

// secs converts a configuration duration in seconds to a time.Duration.
func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
