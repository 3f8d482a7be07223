// Package energy implements a frame-energy voice activity detector.
//
// It is the cheap first stage of the dual detector: a single RMS computation
// per frame, no model state, fully deterministic. The sensitivity scale
// mirrors WebRTC VAD aggressiveness modes (0 = least aggressive filtering,
// 3 = most aggressive, i.e. more audio classified as silence).
package energy

import (
	"fmt"

	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/vad"
)

// rmsThresholds maps sensitivity 0..3 to the normalized RMS level above which
// a frame counts as speech.
var rmsThresholds = [4]float64{0.008, 0.013, 0.020, 0.030}

// stillFactor loosens the deactivation threshold relative to activation so a
// speaker trailing off does not flap the detector.
const stillFactor = 0.75

// Engine creates energy detectors. The zero value is ready to use.
type Engine struct{}

// NewDetector implements vad.Engine.
func (Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &detector{
		frameBytes: cfg.FrameSize * 2,
		threshold:  rmsThresholds[cfg.EnergySensitivity],
	}, nil
}

var _ vad.Engine = Engine{}

type detector struct {
	frameBytes int
	threshold  float64
}

func (d *detector) IsVoice(frame []byte) (bool, error) {
	if len(frame) != d.frameBytes {
		return false, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), d.frameBytes)
	}
	return audio.RMS(frame) >= d.threshold, nil
}

func (d *detector) IsStillVoice(frame []byte) (bool, error) {
	if len(frame) != d.frameBytes {
		return false, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), d.frameBytes)
	}
	return audio.RMS(frame) >= d.threshold*stillFactor, nil
}

// Reset is a no-op: the energy detector carries no state between frames.
func (d *detector) Reset() {}

func (d *detector) Close() error { return nil }

var _ vad.Detector = (*detector)(nil)
