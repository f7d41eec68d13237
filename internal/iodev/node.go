package iodev

import (
	"time"

	"audiod/internal/dsp"
)

// NodeType classifies what a Node physically is, used for plug-priority
// ranking in Better.
type NodeType int

const (
	TypeUnknown NodeType = iota
	TypeInternalSpeaker
	TypeInternalMic
	TypeHeadphone
	TypeMic
	TypeHDMI
	TypeUSB
	TypeBluetooth
)

// typePriority orders node types from least to most preferred when no
// other signal distinguishes two nodes. Higher index wins.
var typePriority = map[NodeType]int{
	TypeUnknown:         0,
	TypeInternalSpeaker: 1,
	TypeInternalMic:     1,
	TypeHeadphone:       2,
	TypeMic:             2,
	TypeHDMI:            3,
	TypeUSB:             4,
	TypeBluetooth:       5,
}

// Node is one selectable control within a device: a speaker, a headphone
// jack, a built-in mic, an HDMI sink, or a BT profile endpoint.
type Node struct {
	dev *Device // non-owning back-reference; owner is Device.nodes

	// Index is unique within the owning device.
	Index int

	Plugged     bool
	PluggedTime time.Time

	// Volume is the per-node output volume, 0-100. Meaningless on input
	// nodes.
	Volume int
	// CaptureGain is the per-node capture gain, in hundredths of dBFS.
	// Meaningless on output nodes.
	CaptureGain int

	SwapChannels bool

	Type NodeType
	Name string

	SoftwareVolumeScalers  dsp.ScalerTable
	SoftwareVolumeNeeded   bool
	MaxSoftwareGainMilliDB int

	MicPositions string

	// StableID survives unplug/replug of the same physical node.
	StableID string
}

// Dev returns the device that owns this node.
func (n *Node) Dev() *Device { return n.dev }

// Better implements the spec's node ranking tie-breaker: (type priority,
// most recently plugged, highest stable_id). Returns true if a ranks
// higher than b.
func Better(a, b *Node) bool {
	pa, pb := typePriority[a.Type], typePriority[b.Type]
	if pa != pb {
		return pa > pb
	}
	if !a.PluggedTime.Equal(b.PluggedTime) {
		return a.PluggedTime.After(b.PluggedTime)
	}
	return a.StableID > b.StableID
}
