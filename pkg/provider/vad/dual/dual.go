// Package dual combines a cheap energy detector with a confirmatory neural
// detector into a single vad.Detector.
//
// Activation (IsVoice) requires both stages to agree: the energy stage runs
// first and dominates on silence, so the neural model is only consulted for
// frames that already carry energy. Deactivation (IsStillVoice) consults only
// the energy stage by default — once speech is confirmed we stay permissive
// about keeping the utterance open.
package dual

import (
	"errors"

	"github.com/lmikkelsen/parlance/pkg/provider/vad"
)

// Option is a functional option for configuring the combined detector.
type Option func(*Detector)

// WithNeuralDeactivation makes IsStillVoice require the neural stage to agree
// as well, instead of trusting the energy stage alone.
func WithNeuralDeactivation() Option {
	return func(d *Detector) { d.stillUsesNeural = true }
}

// Detector is the two-stage combiner. It implements vad.Detector.
type Detector struct {
	fast            vad.Detector
	neural          vad.Detector
	stillUsesNeural bool
}

// New combines the fast (energy) and neural detectors.
func New(fast, neural vad.Detector, opts ...Option) (*Detector, error) {
	if fast == nil || neural == nil {
		return nil, errors.New("dual: both stages are required")
	}
	d := &Detector{fast: fast, neural: neural}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// IsVoice reports speech iff both stages agree. The neural stage is skipped
// entirely when the energy stage already reports silence.
func (d *Detector) IsVoice(frame []byte) (bool, error) {
	fast, err := d.fast.IsVoice(frame)
	if err != nil {
		return false, err
	}
	if !fast {
		return false, nil
	}
	return d.neural.IsVoice(frame)
}

// IsStillVoice keeps an open utterance alive based on the energy stage, and
// additionally the neural stage when configured via WithNeuralDeactivation.
func (d *Detector) IsStillVoice(frame []byte) (bool, error) {
	still, err := d.fast.IsStillVoice(frame)
	if err != nil {
		return false, err
	}
	if !still || !d.stillUsesNeural {
		return still, nil
	}
	return d.neural.IsStillVoice(frame)
}

// Reset clears both stages.
func (d *Detector) Reset() {
	d.fast.Reset()
	d.neural.Reset()
}

// Close closes both stages and joins their errors.
func (d *Detector) Close() error {
	return errors.Join(d.fast.Close(), d.neural.Close())
}

var _ vad.Detector = (*Detector)(nil)
