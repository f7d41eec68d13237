package main

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"audiod/internal/backend/teststub"
	"audiod/internal/btregistry"
	"audiod/internal/devlist"
	"audiod/internal/iodev"
)

// nextBTDevIndex allocates devlist indices for Bluetooth-attached iodevs,
// starting past the two fixed local indices setupDevices reserves.
var nextBTDevIndex = atomic.Int64{}

func init() {
	nextBTDevIndex.Store(2)
}

// profileCollaborator implements btpolicy.ProfileCollaborator for both the
// A2DP sink and HFP hands-free roles. Actual PCM transport over a BlueZ
// media/SCO socket is not implemented here — attaching a real transport is
// a property of the profile's RFCOMM/SCO handshake, which lives outside
// this policy layer. What Start does is make the connected device visible
// to DEVLIST and volume/mute control, the part IODEV and HTTPAPI observe.
type profileCollaborator struct {
	devs *devlist.List
	dir  int // 0 = A2DP sink (output), 1 = HFP hands-free (input)
}

func (c *profileCollaborator) Start(d *btregistry.Device) error {
	dir := c.dir
	if d.IODevs[dir] != nil {
		return nil
	}

	if dir == 1 {
		if err := d.GetSCO(c.establishSCO); err != nil {
			return fmt.Errorf("hfp-ag sco establish: %w", err)
		}
	}

	format := iodev.Format{Rate: 48000, Channels: 1, SampleType: iodev.Float32LE}
	backend := teststub.New(format) // no BlueZ PCM transport implemented; see doc comment above
	direction := iodev.Output
	if dir == 1 {
		direction = iodev.Input
	}

	dev := iodev.New(direction, fmt.Sprintf("bt:%s", d.Name), backend, defaultBufferSizeFrames, defaultMinCbLevel, defaultMaxCbLevel, float64(format.Rate))
	dev.SetEnabled(true)

	node := &iodev.Node{Index: 0, Type: iodev.TypeBluetooth, Name: d.Name, StableID: uuid.NewString()}
	dev.AddNode(node)
	dev.PlugNode(0, true, time.Now())
	_ = dev.SetActiveNode(0)

	idx := int(nextBTDevIndex.Add(1)) - 1
	c.devs.Add(idx, dev)
	d.IODevs[dir] = dev
	d.IODevIndex[dir] = idx

	slog.Info("bluetooth profile started", "device", d.Name, "path", d.ObjectPath, "direction", direction.String())
	return nil
}

func (c *profileCollaborator) SuspendConnectedDevice(d *btregistry.Device) error {
	dir := c.dir
	if d.IODevs[dir] == nil {
		return nil
	}
	err := c.devs.SuspendDev(d.IODevIndex[dir])
	if dir == 1 {
		d.PutSCO(func() {
			slog.Info("hfp-ag sco torn down", "device", d.Name, "path", d.ObjectPath)
		})
	}
	return err
}

// establishSCO opens the BlueZ SCO socket backing the hands-free audio
// path. No real BlueZ SCO transport is implemented here — see the doc
// comment on profileCollaborator — so this always succeeds, standing in
// for the RFCOMM/SCO handshake a real HFP-AG backend would perform.
func (c *profileCollaborator) establishSCO() error {
	return nil
}
