package models

import (
	"errors"
	"os"

	"github.com/lmikkelsen/parlance/internal/config"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
	openaiasr "github.com/lmikkelsen/parlance/pkg/provider/asr/openai"
	whispernative "github.com/lmikkelsen/parlance/pkg/provider/asr/whisper"
	"github.com/lmikkelsen/parlance/pkg/provider/diarize"
	sherpadiarize "github.com/lmikkelsen/parlance/pkg/provider/diarize/sherpa"
)

// ConfigFactory builds engines from the server configuration.
type ConfigFactory struct {
	Main        config.TranscriberConfig
	Live        config.LiveConfig
	Diarization config.DiarizationConfig
}

// NewFileEngine implements Factory.
func (f *ConfigFactory) NewFileEngine() (asr.Engine, error) {
	switch f.Main.Engine {
	case config.EngineOpenAI:
		return f.newRemoteEngine(f.Main.Model)
	default:
		var opts []whispernative.Option
		if f.Main.BeamSize > 0 {
			opts = append(opts, whispernative.WithBeamSize(f.Main.BeamSize))
		}
		return whispernative.New(f.Main.Model, opts...)
	}
}

// NewLiveEngine implements Factory. The live engine always runs locally with
// a greedy decode; remote round-trips are too slow for previews.
func (f *ConfigFactory) NewLiveEngine() (asr.Engine, error) {
	if f.Live.Model == "" {
		return nil, errors.New("models: live transcriber model is not configured")
	}
	return whispernative.New(f.Live.Model, whispernative.WithBeamSize(1))
}

// NewDiarizationEngine implements Factory.
func (f *ConfigFactory) NewDiarizationEngine() (diarize.Engine, error) {
	if !f.DiarizationConfigured() {
		return nil, errors.New("models: diarization models are not configured")
	}
	var opts []sherpadiarize.Option
	if f.Diarization.ClusteringThreshold > 0 {
		opts = append(opts, sherpadiarize.WithClusteringThreshold(float32(f.Diarization.ClusteringThreshold)))
	}
	return sherpadiarize.New(f.Diarization.SegmentationModel, f.Diarization.EmbeddingModel, opts...)
}

// DiarizationConfigured implements Factory.
func (f *ConfigFactory) DiarizationConfigured() bool {
	return f.Diarization.SegmentationModel != "" && f.Diarization.EmbeddingModel != ""
}

func (f *ConfigFactory) newRemoteEngine(model string) (asr.Engine, error) {
	key := f.Main.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	var opts []openaiasr.Option
	if f.Main.BaseURL != "" {
		opts = append(opts, openaiasr.WithBaseURL(f.Main.BaseURL))
	}
	if model != "" {
		opts = append(opts, openaiasr.WithModel(model))
	}
	return openaiasr.New(key, opts...)
}

var _ Factory = (*ConfigFactory)(nil)
