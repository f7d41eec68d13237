// Package devlist holds the set of enabled I/O devices and implements the
// suspend/resume operations BT policy (and other main-thread collaborators)
// drive against them (spec §4.1, the DEVLIST module).
package devlist

import (
	"fmt"
	"sync"

	"audiod/internal/iodev"
)

// List is the main thread's registry of devices, keyed by device index.
// Every method is main-thread-only, matching IODEV's own call discipline.
type List struct {
	mu      sync.RWMutex
	devices map[int]*iodev.Device
	// suspended records devices taken offline by SuspendDev, so ResumeDev
	// knows what format to reopen with and doesn't resume a device that was
	// never suspended.
	suspended map[int]iodev.Format
}

// New constructs an empty device list.
func New() *List {
	return &List{
		devices:   make(map[int]*iodev.Device),
		suspended: make(map[int]iodev.Format),
	}
}

// Add registers a device under idx. Replaces any existing entry at idx.
func (l *List) Add(idx int, dev *iodev.Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices[idx] = dev
}

// Remove unregisters the device at idx, if present.
func (l *List) Remove(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.devices, idx)
	delete(l.suspended, idx)
}

// Get returns the device at idx and whether it is registered.
func (l *List) Get(idx int) (*iodev.Device, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.devices[idx]
	return d, ok
}

// Enabled returns the indices of currently enabled devices, for diagnostics
// and the admin HTTP surface.
func (l *List) Enabled() []int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []int
	for idx, d := range l.devices {
		if d.Enabled() {
			out = append(out, idx)
		}
	}
	return out
}

// SuspendDev closes the backend and marks the device disabled, remembering
// its negotiated format so ResumeDev can reopen it identically. Idempotent:
// suspending an already-suspended device is a no-op.
func (l *List) SuspendDev(idx int) error {
	l.mu.Lock()
	dev, ok := l.devices[idx]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("devlist: no device at index %d", idx)
	}
	if _, already := l.suspended[idx]; already {
		l.mu.Unlock()
		return nil
	}
	format := dev.CurrentFormat()
	l.suspended[idx] = format
	l.mu.Unlock()

	dev.SetEnabled(false)
	if err := dev.Backend().CloseDev(); err != nil {
		return fmt.Errorf("devlist: suspend dev %d: %w", idx, err)
	}
	return nil
}

// ResumeDev reopens the backend with the format recorded at suspend time and
// re-enables the device. A no-op if the device was not suspended.
func (l *List) ResumeDev(idx int) error {
	l.mu.Lock()
	dev, ok := l.devices[idx]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("devlist: no device at index %d", idx)
	}
	format, wasSuspended := l.suspended[idx]
	if !wasSuspended {
		l.mu.Unlock()
		return nil
	}
	delete(l.suspended, idx)
	l.mu.Unlock()

	if err := dev.Backend().OpenDev(format); err != nil {
		return fmt.Errorf("devlist: resume dev %d: %w", idx, err)
	}
	dev.SetEnabled(true)
	return nil
}

// IsSuspended reports whether idx is currently suspended via SuspendDev.
func (l *List) IsSuspended(idx int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.suspended[idx]
	return ok
}
