package statistic

import (
	"errors"
	"fmt"
	"math"
)

// Spectrum is an observed spectrum in counts per channel.
type Spectrum struct {
	Counts   []float64
	Errors   []float64
	Exposure float64
}

func (s Spectrum) Channels() int { return len(s.Counts) }

func (s Spectrum) Validate() error {
	if len(s.Counts) == 0 {
		return errors.New("spectrum has no channels")
	}
	if s.Errors != nil && len(s.Errors) != len(s.Counts) {
		return fmt.Errorf("%w: counts=%d errors=%d", ErrLengthMismatch, len(s.Counts), len(s.Errors))
	}
	if !(s.Exposure > 0) {
		return fmt.Errorf("exposure must be > 0, got %g", s.Exposure)
	}
	for i, c := range s.Counts {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("channel %d: counts must be finite", i+1)
		}
	}
	return nil
}
