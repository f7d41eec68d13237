// Package dsp provides the audio server's DSP hook points and the
// dB/linear gain translation used for software volume and capture gain.
// It does not implement any DSP algorithm itself (spec Non-goal); it only
// wires opaque loopback callbacks into the per-device audio path and
// performs the scalar math §4.1 specifies for volume/gain composition.
package dsp

import "math"

// HookData is an opaque pointer the owner passes back to Hook on every
// invocation. The audio server never inspects it.
type HookData any

// Hook is a loopback callback invoked synchronously on the audio thread
// with the frames at a fixed point in the pipeline (pre-DSP or post-DSP).
// A Hook must not block or call back into mutating device operations.
type Hook func(frames []int32, data HookData)

// Hooks holds the two optional loopback points an output device may
// register. The zero value has both hooks cleared.
type Hooks struct {
	pre     Hook
	preData HookData
	post    Hook
	postArg HookData
}

// SetPre registers (or clears, with a nil hook) the pre-DSP loopback hook,
// which receives the mixed-but-unprocessed frames.
func (h *Hooks) SetPre(hook Hook, data HookData) {
	h.pre = hook
	h.preData = data
}

// SetPost registers (or clears, with a nil hook) the post-DSP loopback
// hook, which receives the final frames sent to hardware.
func (h *Hooks) SetPost(hook Hook, data HookData) {
	h.post = hook
	h.postArg = data
}

// RunPre invokes the pre-DSP hook if one is registered. A no-op otherwise.
func (h *Hooks) RunPre(frames []int32) {
	if h.pre != nil {
		h.pre(frames, h.preData)
	}
}

// RunPost invokes the post-DSP hook if one is registered. A no-op
// otherwise.
func (h *Hooks) RunPost(frames []int32) {
	if h.post != nil {
		h.post(frames, h.postArg)
	}
}

// Context is the per-device DSP pipeline state: only its added delay is
// visible to this package (spec: no DSP algorithms are specified here).
type Context struct {
	// PipelineDelayFrames is the additional latency the DSP pipeline adds
	// on top of the hardware's own reported delay.
	PipelineDelayFrames int
}

// DelayFrames returns the DSP pipeline's contribution to device latency.
// A nil Context contributes zero delay.
func (c *Context) DelayFrames() int {
	if c == nil {
		return 0
	}
	return c.PipelineDelayFrames
}

// ScalerTable maps an effective volume/gain percentage in [0,100] to a
// linear scaler, used when software_volume_needed is set. A nil table
// falls back to the exponent-of-dB translation in LinearFromPercent.
type ScalerTable []float64

// Scaler returns the linear scaler for effective percent p in [0,100]. With
// a populated table, p is clamped and used as an index (one entry per
// integer percent); with no table, it falls back to LinearFromPercent.
func (t ScalerTable) Scaler(p int) float64 {
	if len(t) == 0 {
		return LinearFromPercent(p)
	}
	if p < 0 {
		p = 0
	}
	if p > len(t)-1 {
		p = len(t) - 1
	}
	return t[p]
}

// LinearFromPercent converts a volume/gain percentage in [0,100] to a
// linear scaler using an exponent-of-dB curve: 100 maps to unity gain (1.0),
// 0 maps to silence (0.0), and the curve in between is exponential in dB so
// perceived loudness changes roughly linearly with the percentage.
func LinearFromPercent(p int) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 100 {
		return 1.0
	}
	// Map [0,100] onto [-60dB, 0dB] and convert to linear.
	const minDB = -60.0
	db := minDB * (1 - float64(p)/100.0)
	return math.Pow(10, db/20.0)
}

// LinearFromDB converts a decibel value to a linear scaler (10^(dB/20)),
// the exponent-of-dB translation spec §4.1 specifies for capture gain.
func LinearFromDB(db float64) float64 {
	return math.Pow(10, db/20.0)
}

// MilliDBFromHundredths converts a capture gain expressed in hundredths of
// dBFS (as IONode.CaptureGain is specified) to milli-dB, the unit
// MaxSoftwareGain is expressed in.
func MilliDBFromHundredths(hundredthsDBFS int) int {
	return hundredthsDBFS * 10
}
