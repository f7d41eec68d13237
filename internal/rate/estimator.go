// Package rate implements the audio server's per-device rate estimator: a
// running regression from wall-clock time to samples consumed, used by the
// stream mixer (outside this module's scope) to stretch or compress audio
// to compensate for a hardware clock that drifts from its nominal rate.
package rate

import "time"

// smoothingAlpha weights new observations against the running estimate.
// Matches the EWMA smoothing factor client/internal/adapt.SmoothLoss uses
// for its own per-connection quality signal.
const smoothingAlpha = 0.3

// Estimator tracks the actual sample rate of one device against its
// nominal (configured) rate.
type Estimator struct {
	nominal   float64 // frames/sec the device was configured for
	estimated float64 // current smoothed estimate, frames/sec
	window    struct {
		start  time.Time
		frames int64
	}
	haveEstimate bool
}

// NewEstimator returns an Estimator for a device with the given nominal
// (configured) sample rate.
func NewEstimator(nominalRate float64) *Estimator {
	e := &Estimator{nominal: nominalRate, estimated: nominalRate}
	return e
}

// Reset clears the accumulated observation window and the smoothed
// estimate, snapping back to the nominal rate. Called whenever the owning
// device opens or its format changes.
func (e *Estimator) Reset() {
	e.estimated = e.nominal
	e.window.start = time.Time{}
	e.window.frames = 0
	e.haveEstimate = false
}

// SetNominal updates the nominal rate (e.g. after a format change) and
// resets the observation window.
func (e *Estimator) SetNominal(nominalRate float64) {
	e.nominal = nominalRate
	e.Reset()
}

// AddFrames records that n additional frames were produced/consumed at
// instant now. Call this on each hardware buffer-level observation. The
// first call after Reset only opens the observation window; an estimate
// requires at least one full window.
func (e *Estimator) AddFrames(n int64, now time.Time) {
	if e.window.start.IsZero() {
		e.window.start = now
		e.window.frames = n
		return
	}

	e.window.frames += n
	elapsed := now.Sub(e.window.start).Seconds()
	if elapsed <= 0 {
		return
	}

	// A window shorter than ~1s is too noisy to trust on its own; keep
	// accumulating frames until enough wall-clock time has passed, then
	// fold the observed rate into the smoothed estimate and start a fresh
	// window anchored at now.
	const minWindow = 1.0
	if elapsed < minWindow {
		return
	}

	observed := float64(e.window.frames) / elapsed
	if e.haveEstimate {
		e.estimated = smoothingAlpha*observed + (1-smoothingAlpha)*e.estimated
	} else {
		e.estimated = observed
		e.haveEstimate = true
	}

	e.window.start = now
	e.window.frames = 0
}

// EstimatedRate returns the current smoothed estimate of the actual sample
// rate, in frames/sec.
func (e *Estimator) EstimatedRate() float64 {
	return e.estimated
}

// Ratio returns estimated/nominal, consumed by the mixer to stretch or
// compress playback as needed. Returns 1.0 if the nominal rate is zero.
func (e *Estimator) Ratio() float64 {
	if e.nominal == 0 {
		return 1.0
	}
	return e.estimated / e.nominal
}
