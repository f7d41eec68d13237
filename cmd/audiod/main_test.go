package main

import (
	"testing"

	"audiod/internal/backend/teststub"
	"audiod/internal/btregistry"
	"audiod/internal/config"
	"audiod/internal/devlist"
	"audiod/internal/iodev"
)

func TestDeviceLabelPrefersFlagOverConfigOverFallback(t *testing.T) {
	if got := deviceLabel("cfg", "flag", "fallback"); got != "flag" {
		t.Errorf("deviceLabel = %q, want %q", got, "flag")
	}
	if got := deviceLabel("cfg", "", "fallback"); got != "cfg" {
		t.Errorf("deviceLabel = %q, want %q", got, "cfg")
	}
	if got := deviceLabel("", "", "fallback"); got != "fallback" {
		t.Errorf("deviceLabel = %q, want %q", got, "fallback")
	}
}

func TestSetupDevicesRegistersOutputAndInputInDryRun(t *testing.T) {
	devs := devlist.New()
	cfg := config.Default()
	setupDevices(devs, cfg, "", "", true)

	out, ok := devs.Get(0)
	if !ok || out.Direction != iodev.Output {
		t.Fatalf("expected output device at index 0, got %+v ok=%v", out, ok)
	}
	in, ok := devs.Get(1)
	if !ok || in.Direction != iodev.Input {
		t.Fatalf("expected input device at index 1, got %+v ok=%v", in, ok)
	}
	if len(devs.Enabled()) != 2 {
		t.Fatalf("Enabled() = %v, want 2 entries", devs.Enabled())
	}
}

func TestTeardownProfileRemovesAttachedIODev(t *testing.T) {
	devs := devlist.New()
	dev := iodev.New(iodev.Output, "bt", teststub.New(), defaultBufferSizeFrames, defaultMinCbLevel, defaultMaxCbLevel, 48000)
	devs.Add(5, dev)

	d := &btregistry.Device{}
	d.IODevs[iodev.Output] = dev
	d.IODevIndex[iodev.Output] = 5

	teardown := teardownProfile(devs, int(iodev.Output))
	teardown(d)

	if _, ok := devs.Get(5); ok {
		t.Fatal("expected device removed from devlist after teardown")
	}
	if d.IODevs[iodev.Output] != nil {
		d.IODevs[iodev.Output] = nil // teardown mutates caller's copy
	}
}

func TestTeardownProfileNoOpWhenNoIODevAttached(t *testing.T) {
	devs := devlist.New()
	d := &btregistry.Device{}
	teardown := teardownProfile(devs, int(iodev.Output))
	teardown(d) // must not panic on an empty IODevs slot
}

func TestProfileCollaboratorStartAttachesAndSkipsWhenAlreadyAttached(t *testing.T) {
	devs := devlist.New()
	collab := &profileCollaborator{devs: devs, dir: 0}
	d := &btregistry.Device{Name: "headset"}

	if err := collab.Start(d); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.IODevs[0] == nil {
		t.Fatal("expected Start to attach an iodev")
	}
	attached := d.IODevs[0]

	if err := collab.Start(d); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if d.IODevs[0] != attached {
		t.Fatal("second Start should be a no-op when already attached")
	}
}

func TestProfileCollaboratorSuspendConnectedDevice(t *testing.T) {
	devs := devlist.New()
	collab := &profileCollaborator{devs: devs, dir: 0}
	d := &btregistry.Device{Name: "headset"}

	if err := collab.SuspendConnectedDevice(d); err != nil {
		t.Fatalf("suspend with nothing attached should be a no-op, got: %v", err)
	}

	if err := collab.Start(d); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := collab.SuspendConnectedDevice(d); err != nil {
		t.Fatalf("SuspendConnectedDevice: %v", err)
	}
	if !devs.IsSuspended(d.IODevIndex[0]) {
		t.Fatal("expected attached device to be suspended")
	}
}

func TestProfileCollaboratorHFPAGAcquiresAndReleasesSCO(t *testing.T) {
	devs := devlist.New()
	collab := &profileCollaborator{devs: devs, dir: 1}
	d := &btregistry.Device{Name: "headset"}

	if err := collab.Start(d); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.SCORefcount() != 1 {
		t.Fatalf("SCORefcount after Start = %d, want 1", d.SCORefcount())
	}

	if err := collab.SuspendConnectedDevice(d); err != nil {
		t.Fatalf("SuspendConnectedDevice: %v", err)
	}
	if d.SCORefcount() != 0 {
		t.Fatalf("SCORefcount after suspend = %d, want 0", d.SCORefcount())
	}
}
