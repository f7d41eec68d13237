// Package metrics implements the audio server's fire-and-forget counters
// (spec §4.1/§6, the MET module). Every increment is non-blocking and
// cannot fail; reporting is a side activity, never on the call path of the
// component that observed the event.
package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// numSuspendReasons mirrors the cardinality of btpolicy.SuspendReason. This
// package takes a plain int rather than importing btpolicy, so metrics stays
// a leaf dependency every policy package can report into.
const numSuspendReasons = 6

// Counters holds every process-wide counter the policy/transport layers
// report into. The zero value is ready to use.
type Counters struct {
	transientDeviceErrors atomic.Uint64
	a2dpLongTxFailures    atomic.Uint64
	a2dpFatalErrors       atomic.Uint64
	hfpSCOErrors          atomic.Uint64
	hfpAGStartFailures    atomic.Uint64
	profileSwitches       atomic.Uint64
	connectionWatchStarts atomic.Uint64

	suspendsByReason [numSuspendReasons]atomic.Uint64
}

// New returns a ready-to-use, zeroed Counters.
func New() *Counters { return &Counters{} }

// RecordTransientDeviceError counts a short write failure or EAGAIN the
// audio thread recovered from locally (spec §7: "recovered locally ...
// reported to metrics as counters; no policy action").
func (c *Counters) RecordTransientDeviceError() { c.transientDeviceErrors.Add(1) }

// RecordA2DPLongTxFailure counts an A2DP transmit stall of >=5s.
func (c *Counters) RecordA2DPLongTxFailure() { c.a2dpLongTxFailures.Add(1) }

// RecordA2DPFatalError counts an A2DP fatal socket condition.
func (c *Counters) RecordA2DPFatalError() { c.a2dpFatalErrors.Add(1) }

// RecordHFPSCOError counts an SCO socket open/poll failure.
func (c *Counters) RecordHFPSCOError() { c.hfpSCOErrors.Add(1) }

// RecordHFPAGStartFailure counts an HFP-AG start failure.
func (c *Counters) RecordHFPAGStartFailure() { c.hfpAGStartFailures.Add(1) }

// RecordProfileSwitch counts a BT active-profile change handled by the
// profile-switch FSM.
func (c *Counters) RecordProfileSwitch() { c.profileSwitches.Add(1) }

// RecordConnectionWatchStart counts a connection-watch FSM (re)start.
func (c *Counters) RecordConnectionWatchStart() { c.connectionWatchStarts.Add(1) }

// RecordSuspend counts a scheduled suspend firing, broken down by reason.
// Out-of-range reasons are silently dropped rather than panicking — a
// metrics call must never fail in a way that blocks its caller.
func (c *Counters) RecordSuspend(reason int) {
	if reason < 0 || reason >= numSuspendReasons {
		return
	}
	c.suspendsByReason[reason].Add(1)
}

// Snapshot is a point-in-time read of every counter, for the admin HTTP
// surface and the reporter loop.
type Snapshot struct {
	TransientDeviceErrors uint64
	A2DPLongTxFailures    uint64
	A2DPFatalErrors       uint64
	HFPSCOErrors          uint64
	HFPAGStartFailures    uint64
	ProfileSwitches       uint64
	ConnectionWatchStarts uint64
	SuspendsByReason      [numSuspendReasons]uint64
}

// Snapshot reads every counter without resetting it.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		TransientDeviceErrors: c.transientDeviceErrors.Load(),
		A2DPLongTxFailures:    c.a2dpLongTxFailures.Load(),
		A2DPFatalErrors:       c.a2dpFatalErrors.Load(),
		HFPSCOErrors:          c.hfpSCOErrors.Load(),
		HFPAGStartFailures:    c.hfpAGStartFailures.Load(),
		ProfileSwitches:       c.profileSwitches.Load(),
		ConnectionWatchStarts: c.connectionWatchStarts.Load(),
	}
	for i := range c.suspendsByReason {
		s.SuspendsByReason[i] = c.suspendsByReason[i].Load()
	}
	return s
}

// Run logs a snapshot every interval until ctx is canceled, skipping quiet
// intervals where nothing changed since the last report.
func Run(ctx context.Context, c *Counters, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Snapshot()
			if snap == last {
				continue
			}
			last = snap
			slog.Info("metrics",
				"transient_device_errors", snap.TransientDeviceErrors,
				"a2dp_long_tx_failures", snap.A2DPLongTxFailures,
				"a2dp_fatal_errors", snap.A2DPFatalErrors,
				"hfp_sco_errors", snap.HFPSCOErrors,
				"hfp_ag_start_failures", snap.HFPAGStartFailures,
				"profile_switches", snap.ProfileSwitches,
				"connection_watch_starts", snap.ConnectionWatchStarts,
			)
		}
	}
}
