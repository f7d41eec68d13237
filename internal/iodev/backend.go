package iodev

// Backend is the capability set every concrete hardware driver (ALSA,
// loopback, A2DP, HFP-AG, or a test stub) supplies. Every method is called
// only from the main thread except FramesQueued, DelayFrames, GetBuffer,
// and PutBuffer, which the audio thread calls under the discipline of
// spec §5: the audio thread may block on the hardware buffer but must
// never take a lock the main thread holds, and concurrent GetBuffer calls
// on the same Backend are not permitted.
type Backend interface {
	// OpenDev must leave the device ready to serve FramesQueued >=
	// min_buffer_level. Returns a non-nil error on failure.
	OpenDev(format Format) error
	// CloseDev releases any resources OpenDev acquired.
	CloseDev() error
	// IsOpen reports whether OpenDev has succeeded and CloseDev has not
	// since been called.
	IsOpen() bool

	// UpdateSupportedFormats refreshes and returns the formats this
	// backend can realize, most-preferred first.
	UpdateSupportedFormats() ([]Format, error)

	// FramesQueued returns the number of frames currently queued in the
	// hardware buffer. Audio-thread callable.
	FramesQueued() (int, error)
	// DelayFrames returns the backend's own hardware delay, in frames.
	// Audio-thread callable.
	DelayFrames() (int, error)

	// GetBuffer returns a contiguous audio area of up to maxFrames frames
	// and the number of frames actually available. Concurrent GetBuffer
	// calls are not permitted. Audio-thread callable.
	GetBuffer(maxFrames int) (area []int32, avail int, err error)
	// PutBuffer commits n frames; n must not exceed what the matching
	// GetBuffer returned. Audio-thread callable.
	PutBuffer(n int) error
	// FlushBuffer discards any queued-but-uncommitted frames.
	FlushBuffer() error

	// DevRunning reports whether samples are actively being moved by the
	// hardware. Audio-thread callable.
	DevRunning() bool

	// UpdateActiveNode is the only legal way the backend learns the node
	// selection changed. idx is the node index; enabled is false when the
	// node is being deselected.
	UpdateActiveNode(idx int, enabled bool)
	// UpdateChannelLayout asks the backend to fill in channel ordering
	// for the negotiated format.
	UpdateChannelLayout() error

	SetVolume(percent int)
	SetMute(muted bool)
	SetCaptureGain(hundredthsDBFS int)
	SetCaptureMute(muted bool)
	SetSwapMode(nodeIdx int, swapped bool)
}
