package iodev

import (
	"errors"
	"testing"
	"time"
)

// stubBackend is a minimal Backend used to exercise Device logic without a
// real audio stack.
type stubBackend struct {
	formats      []Format
	formatsErr   error
	delayFrames  int
	delayErr     error
	volume       int
	muted        bool
	captureGain  int
	captureMuted bool
	activeIdx    int
	activeOK     bool
	layoutErr    error
}

func (b *stubBackend) OpenDev(Format) error  { return nil }
func (b *stubBackend) CloseDev() error       { return nil }
func (b *stubBackend) IsOpen() bool          { return true }
func (b *stubBackend) UpdateSupportedFormats() ([]Format, error) {
	return b.formats, b.formatsErr
}
func (b *stubBackend) FramesQueued() (int, error)  { return 0, nil }
func (b *stubBackend) DelayFrames() (int, error)   { return b.delayFrames, b.delayErr }
func (b *stubBackend) GetBuffer(maxFrames int) ([]int32, int, error) {
	return nil, 0, nil
}
func (b *stubBackend) PutBuffer(int) error  { return nil }
func (b *stubBackend) FlushBuffer() error   { return nil }
func (b *stubBackend) DevRunning() bool     { return true }
func (b *stubBackend) UpdateActiveNode(idx int, enabled bool) {
	b.activeIdx, b.activeOK = idx, enabled
}
func (b *stubBackend) UpdateChannelLayout() error       { return b.layoutErr }
func (b *stubBackend) SetVolume(percent int)            { b.volume = percent }
func (b *stubBackend) SetMute(muted bool)               { b.muted = muted }
func (b *stubBackend) SetCaptureGain(hundredths int)     { b.captureGain = hundredths }
func (b *stubBackend) SetCaptureMute(muted bool)         { b.captureMuted = muted }
func (b *stubBackend) SetSwapMode(int, bool)             {}

func newTestDevice(t *testing.T, backend *stubBackend) *Device {
	t.Helper()
	return New(Output, "test", backend, 4096, 240, 1024, 48000)
}

func TestNewPanicsOnInvertedCbLevels(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for min_cb_level > max_cb_level")
		}
	}()
	New(Output, "bad", &stubBackend{}, 4096, 1024, 240, 48000)
}

func TestSetFormatExactMatch(t *testing.T) {
	want := Format{Rate: 48000, Channels: 2, SampleType: S16LE}
	b := &stubBackend{formats: []Format{{Rate: 44100, Channels: 2, SampleType: S16LE}, want}}
	d := newTestDevice(t, b)

	if err := d.SetFormat(want); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if got := d.CurrentFormat(); !got.Equal(want) {
		t.Fatalf("CurrentFormat = %+v, want %+v", got, want)
	}
	if got := d.ExternalFormat(); !got.Equal(want) {
		t.Fatalf("ExternalFormat = %+v, want %+v", got, want)
	}
}

func TestSetFormatClosestRateKeepsExternalAtRequest(t *testing.T) {
	requested := Format{Rate: 48000, Channels: 2, SampleType: S16LE}
	closest := Format{Rate: 44100, Channels: 2, SampleType: S16LE}
	b := &stubBackend{formats: []Format{closest, {Rate: 96000, Channels: 2, SampleType: S16LE}}}
	d := newTestDevice(t, b)

	if err := d.SetFormat(requested); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if got := d.CurrentFormat(); !got.Equal(closest) {
		t.Fatalf("CurrentFormat = %+v, want closest %+v", got, closest)
	}
	if got := d.ExternalFormat(); !got.Equal(requested) {
		t.Fatalf("ExternalFormat = %+v, want requested %+v", got, requested)
	}
}

func TestSetFormatNoSupportedFormatsErrors(t *testing.T) {
	d := newTestDevice(t, &stubBackend{formats: nil})
	if err := d.SetFormat(Format{Rate: 48000, Channels: 2, SampleType: S16LE}); err == nil {
		t.Fatal("expected error with no supported formats")
	}
}

func TestSetFormatPropagatesBackendErrors(t *testing.T) {
	wantErr := errors.New("boom")
	d := newTestDevice(t, &stubBackend{formatsErr: wantErr})
	if err := d.SetFormat(Format{Rate: 48000, Channels: 2, SampleType: S16LE}); !errors.Is(err, wantErr) {
		t.Fatalf("SetFormat error = %v, want wrapping %v", err, wantErr)
	}
}

func TestFreeFormatClearsFormatAndResetsRate(t *testing.T) {
	f := Format{Rate: 48000, Channels: 2, SampleType: S16LE}
	d := newTestDevice(t, &stubBackend{formats: []Format{f}})
	if err := d.SetFormat(f); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	d.FreeFormat()
	if got := d.CurrentFormat(); got != (Format{}) {
		t.Fatalf("CurrentFormat after FreeFormat = %+v, want zero value", got)
	}
	if ratio := d.EstRateRatio(); ratio != 1.0 {
		t.Fatalf("EstRateRatio after FreeFormat = %v, want 1.0", ratio)
	}
}

func TestSetActiveNodeIsNoOpWhenAlreadyActive(t *testing.T) {
	b := &stubBackend{}
	d := newTestDevice(t, b)
	n := &Node{Index: 1}
	d.AddNode(n)
	if err := d.SetActiveNode(1); err != nil {
		t.Fatalf("SetActiveNode: %v", err)
	}
	b.activeIdx = -1 // reset to detect a second call
	if err := d.SetActiveNode(1); err != nil {
		t.Fatalf("SetActiveNode (second call): %v", err)
	}
	if b.activeIdx != -1 {
		t.Fatal("backend.UpdateActiveNode should not be called again for an already-active node")
	}
}

func TestSetActiveNodeUnknownIndexErrors(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	if err := d.SetActiveNode(99); err == nil {
		t.Fatal("expected error selecting unknown node index")
	}
}

func TestRemoveNodeClearsActiveNode(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	n := &Node{Index: 1}
	d.AddNode(n)
	if err := d.SetActiveNode(1); err != nil {
		t.Fatalf("SetActiveNode: %v", err)
	}
	d.RemoveNode(1)
	if d.ActiveNode() != nil {
		t.Fatal("ActiveNode should be nil after removing the active node")
	}
	if len(d.Nodes()) != 0 {
		t.Fatal("Nodes should be empty after removal")
	}
}

func TestPlugNodeStampsPluggedTime(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	d.AddNode(&Node{Index: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.PlugNode(1, true, now)
	nodes := d.Nodes()
	if !nodes[0].Plugged || !nodes[0].PluggedTime.Equal(now) {
		t.Fatalf("node not plugged as expected: %+v", nodes[0])
	}
	d.PlugNode(1, false, now.Add(time.Second))
	if d.Nodes()[0].Plugged {
		t.Fatal("node should be unplugged")
	}
}

func TestMarkNodesUnpluggedAffectsAll(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	d.AddNode(&Node{Index: 1, Plugged: true})
	d.AddNode(&Node{Index: 2, Plugged: true})
	d.MarkNodesUnplugged()
	for _, n := range d.Nodes() {
		if n.Plugged {
			t.Fatalf("expected all nodes unplugged, got %+v", n)
		}
	}
}

func TestDelayFramesSumsBackendAndDSP(t *testing.T) {
	b := &stubBackend{delayFrames: 128}
	d := newTestDevice(t, b)
	got, err := d.DelayFrames()
	if err != nil {
		t.Fatalf("DelayFrames: %v", err)
	}
	if got != 128 {
		t.Fatalf("DelayFrames = %d, want 128 (nil DSP context contributes 0)", got)
	}
}

func TestDelayFramesPropagatesBackendError(t *testing.T) {
	wantErr := errors.New("no device")
	d := newTestDevice(t, &stubBackend{delayErr: wantErr})
	if _, err := d.DelayFrames(); !errors.Is(err, wantErr) {
		t.Fatalf("DelayFrames error = %v, want wrapping %v", err, wantErr)
	}
}
