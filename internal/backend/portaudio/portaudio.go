// Package portaudio implements iodev.Backend on top of PortAudio's blocking
// stream API, the concrete backend for local sound-card playback/capture
// (spec §6, "audio backend plugins").
package portaudio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"audiod/internal/iodev"
)

// Backend drives one PortAudio stream (capture or playback, never both) for
// a single hardware device index. Callers must have already called
// pa.Initialize() once at process start and pa.Terminate() at shutdown;
// this package does not own PortAudio's global lifecycle.
type Backend struct {
	mu sync.Mutex

	dir         iodev.Direction
	deviceIndex int // -1 selects the host default device

	stream    *pa.Stream
	frameSize int
	format    iodev.Format

	buf     []float32 // interleaved, frameSize*channels samples
	scratch []int32   // iodev-facing int32 view of buf

	volume       int
	muted        bool
	captureGain  int
	captureMuted bool
	swapped      bool
}

// New constructs a Backend bound to a direction and device index. Pass -1
// for deviceIndex to use the host's default input/output device.
func New(dir iodev.Direction, deviceIndex, frameSize int) *Backend {
	if frameSize <= 0 {
		frameSize = 960 // 20ms @ 48kHz, matching the teacher's capture cadence
	}
	return &Backend{dir: dir, deviceIndex: deviceIndex, frameSize: frameSize}
}

func (b *Backend) resolveDevice() (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	if b.deviceIndex >= 0 && b.deviceIndex < len(devices) {
		return devices[b.deviceIndex], nil
	}
	if b.dir == iodev.Input {
		return pa.DefaultInputDevice()
	}
	return pa.DefaultOutputDevice()
}

func (b *Backend) OpenDev(f iodev.Format) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, err := b.resolveDevice()
	if err != nil {
		return err
	}

	b.buf = make([]float32, b.frameSize*f.Channels)
	b.scratch = make([]int32, b.frameSize*f.Channels)

	var params pa.StreamParameters
	if b.dir == iodev.Output {
		params = pa.StreamParameters{
			Output: pa.StreamDeviceParameters{
				Device:   dev,
				Channels: f.Channels,
				Latency:  dev.DefaultLowOutputLatency,
			},
			SampleRate:      float64(f.Rate),
			FramesPerBuffer: b.frameSize,
		}
	} else {
		params = pa.StreamParameters{
			Input: pa.StreamDeviceParameters{
				Device:   dev,
				Channels: f.Channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(f.Rate),
			FramesPerBuffer: b.frameSize,
		}
	}

	stream, err := pa.OpenStream(params, b.buf)
	if err != nil {
		return fmt.Errorf("portaudio: open stream on %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start stream on %s: %w", dev.Name, err)
	}

	b.stream = stream
	b.format = f
	slog.Info("portaudio stream opened", "device", dev.Name, "direction", b.dir.String(), "rate", f.Rate, "channels", f.Channels)
	return nil
}

func (b *Backend) CloseDev() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		return nil
	}
	stream := b.stream
	b.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: stop stream: %w", err)
	}
	return stream.Close()
}

func (b *Backend) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream != nil
}

// UpdateSupportedFormats reports the single format the resolved device's
// default sample rate realizes. PortAudio's blocking API negotiates one
// rate per stream open, so there is no richer format table to enumerate
// ahead of time.
func (b *Backend) UpdateSupportedFormats() ([]iodev.Format, error) {
	dev, err := b.resolveDevice()
	if err != nil {
		return nil, err
	}
	channels := dev.MaxOutputChannels
	if b.dir == iodev.Input {
		channels = dev.MaxInputChannels
	}
	if channels <= 0 {
		channels = 2
	}
	return []iodev.Format{{
		Rate:       int(dev.DefaultSampleRate),
		Channels:   channels,
		SampleType: iodev.Float32LE,
	}}, nil
}

func (b *Backend) FramesQueued() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		return 0, nil
	}
	// The blocking API exposes no queue-depth call; one buffer's worth is
	// always either in flight or about to be requested.
	return b.frameSize, nil
}

func (b *Backend) DelayFrames() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		return 0, nil
	}
	info := b.stream.Info()
	latency := info.OutputLatency
	if b.dir == iodev.Input {
		latency = info.InputLatency
	}
	return int(latency.Seconds() * float64(b.format.Rate)), nil
}

func (b *Backend) GetBuffer(maxFrames int) ([]int32, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return nil, 0, fmt.Errorf("portaudio: device not open")
	}

	channels := b.format.Channels
	if channels == 0 {
		channels = 1
	}
	frames := b.frameSize
	if maxFrames < frames {
		frames = maxFrames
	}

	if b.dir == iodev.Input {
		if err := b.stream.Read(); err != nil {
			return nil, 0, fmt.Errorf("portaudio: read: %w", err)
		}
		gain := captureGainScaler(b.captureGain)
		for i, s := range b.buf {
			v := s
			if b.captureMuted {
				v = 0
			} else {
				v *= gain
			}
			b.scratch[i] = floatToInt32(v)
		}
		if b.swapped && channels == 2 {
			swapStereo(b.scratch[:frames*channels])
		}
	}
	return b.scratch[:frames*channels], frames, nil
}

func (b *Backend) PutBuffer(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return fmt.Errorf("portaudio: device not open")
	}
	if b.dir != iodev.Output {
		return nil
	}

	channels := b.format.Channels
	if channels == 0 {
		channels = 1
	}
	if b.swapped && channels == 2 {
		swapStereo(b.scratch[:n*channels])
	}

	vol := volumeScaler(b.volume)
	for i := 0; i < n*channels && i < len(b.buf); i++ {
		v := int32ToFloat(b.scratch[i])
		if b.muted {
			v = 0
		} else {
			v *= vol
		}
		b.buf[i] = v
	}
	for i := n * channels; i < len(b.buf); i++ {
		b.buf[i] = 0
	}
	if err := b.stream.Write(); err != nil {
		return fmt.Errorf("portaudio: write: %w", err)
	}
	return nil
}

func (b *Backend) FlushBuffer() error { return nil }

func (b *Backend) DevRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream != nil
}

func (b *Backend) UpdateActiveNode(idx int, enabled bool) {
	slog.Debug("portaudio: active node changed", "idx", idx, "enabled", enabled)
}

func (b *Backend) UpdateChannelLayout() error { return nil }

func (b *Backend) SetVolume(percent int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = percent
}

func (b *Backend) SetMute(muted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = muted
}

func (b *Backend) SetCaptureGain(hundredthsDBFS int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captureGain = hundredthsDBFS
}

func (b *Backend) SetCaptureMute(muted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captureMuted = muted
}

func (b *Backend) SetSwapMode(nodeIdx int, swapped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.swapped = swapped
}

func volumeScaler(percent int) float32 {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 1
	}
	return float32(percent) / 100.0
}

func captureGainScaler(hundredthsDBFS int) float32 {
	db := float64(hundredthsDBFS) / 100.0
	return float32(math.Pow(10, db/20.0))
}

func floatToInt32(v float32) int32 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int32(float64(v) * math.MaxInt32)
}

func int32ToFloat(v int32) float32 {
	return float32(float64(v) / math.MaxInt32)
}

func swapStereo(samples []int32) {
	for i := 0; i+1 < len(samples); i += 2 {
		samples[i], samples[i+1] = samples[i+1], samples[i]
	}
}

var _ iodev.Backend = (*Backend)(nil)
