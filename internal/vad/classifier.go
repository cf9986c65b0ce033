// Package vad detects speech in captured audio and turns it into utterances.
package vad

import (
	"errors"
	"fmt"
	"math"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

// ErrInvalidFrame is returned for frames the classifier cannot accept.
var ErrInvalidFrame = errors.New("vad: invalid frame")

// Classifier decides whether a single frame contains speech. Frames must be
// 10, 20 or 30 ms of PCM16 mono at 8, 16, 32 or 48 kHz.
type Classifier interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// rmsThresholds maps aggressiveness 0 (permissive) to 3 (strict) onto the
// minimum RMS amplitude, in PCM16 units, that counts as voiced.
var rmsThresholds = [4]float64{150, 300, 600, 1000}

// EnergyClassifier is an RMS-energy voice detector.
type EnergyClassifier struct {
	aggressiveness int
	threshold      float64
}

func NewEnergyClassifier(aggressiveness int) (*EnergyClassifier, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("aggressiveness must be between 0 and 3, got %d", aggressiveness)
	}
	return &EnergyClassifier{
		aggressiveness: aggressiveness,
		threshold:      rmsThresholds[aggressiveness],
	}, nil
}

func (c *EnergyClassifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if err := ValidateFrame(len(frame), sampleRate); err != nil {
		return false, err
	}
	return RMS(frame) >= c.threshold, nil
}

func (c *EnergyClassifier) Aggressiveness() int { return c.aggressiveness }

// ValidateFrame checks that n bytes form a 10/20/30 ms frame at a supported rate.
func ValidateFrame(n int, sampleRate int) error {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("%w: unsupported sample rate %d", ErrInvalidFrame, sampleRate)
	}
	for _, ms := range []int{10, 20, 30} {
		if n == audio.FrameBytes(sampleRate, ms) {
			return nil
		}
	}
	return fmt.Errorf("%w: %d bytes is not a 10/20/30 ms frame at %d Hz", ErrInvalidFrame, n, sampleRate)
}

// RMS returns the root-mean-square amplitude of a PCM16 frame.
func RMS(frame []byte) float64 {
	samples := audio.Samples(frame)
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}
