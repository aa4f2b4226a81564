// Package mrc implements the Media Redundancy Client state machine:
// the five AC_STAT1/DE_IDLE/PT/DE/PT_IDLE states spec.md §4.4 names, the
// primary/secondary link-change matrix, RingLinkUp/Down request-and-reply
// handling, topology-change reception, and (for MRA-capable clients) the
// monitor timer that promotes a client to manager when its current
// manager goes silent.
//
// Grounded on mrp_mrc_port_link, mrp_mrc_recv_ring_topo, and
// mrp_mrc_ring_test_expired (original_source/state_machine.c, timer.c),
// in the same Env-plus-free-function style as internal/mrp/mrm.
package mrc

import (
	"time"

	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/mrm"
	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/ringmrp/mrpd/internal/mrp/sched"
)

// requestRingLinkUp/Down arm the corresponding countdown timer and send the
// opening frame, mirroring mrp_ring_link_up_start/mrp_ring_link_req call
// pairs inlined at every mrc.go call site in the original.
func requestRingLinkUp(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	inst.RingLinkCurrMax = defaults.LinkMaxCount
	e.Sched.Arm(inst, sched.RingLinkUp, defaults.LinkInterval)
	mrm.RequestRingLink(e, inst, inst.P, true, time.Duration(inst.RingLinkCurrMax)*defaults.LinkInterval)
}

func requestRingLinkDown(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	inst.RingLinkCurrMax = defaults.LinkMaxCount
	e.Sched.Arm(inst, sched.RingLinkDown, defaults.LinkInterval)
	mrm.RequestRingLink(e, inst, inst.P, false, time.Duration(inst.RingLinkCurrMax)*defaults.LinkInterval)
}

// PortLinkChange is the link-state-change handler while the instance holds
// the MRC role, grounded on mrp_mrc_port_link.
func PortLinkChange(e instance.Env, inst *instance.Instance, p *port.Port, up bool) {
	defaults := sched.RingDefaultsFor(inst.RingClass)

	switch inst.MRCState {
	case instance.MRCStateACStat1:
		if up && p == inst.P {
			_ = instance.SetPortState(e.Driver, inst.P, port.StateForwarding)
			inst.MRCState = instance.MRCStateDEIdle
		} else if up && p != inst.P {
			inst.SwapPrimarySecondary()
			_ = instance.SetPortState(e.Driver, inst.P, port.StateForwarding)
			inst.MRCState = instance.MRCStateDEIdle
		}

	case instance.MRCStateDEIdle:
		if up && p != inst.P {
			requestRingLinkUp(e, inst)
			inst.MRCState = instance.MRCStatePT
		} else if !up && p == inst.P {
			_ = instance.SetPortState(e.Driver, inst.P, port.StateBlocked)
			inst.MRCState = instance.MRCStateACStat1
		}

	case instance.MRCStatePT:
		if !up && p != inst.P {
			inst.RingLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.RingLinkUp)
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			requestRingLinkDown(e, inst)
			inst.MRCState = instance.MRCStateDE
		} else if !up && p == inst.P {
			inst.RingLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.RingLinkUp)
			inst.SwapPrimarySecondary()
			_ = instance.SetPortState(e.Driver, inst.P, port.StateForwarding)
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			requestRingLinkDown(e, inst)
			inst.MRCState = instance.MRCStateDE
		}

	case instance.MRCStateDE:
		if up && p != inst.P {
			inst.RingLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.RingLinkDown)
			requestRingLinkUp(e, inst)
			inst.MRCState = instance.MRCStatePT
		} else if !up && p == inst.P {
			inst.RingLinkCurrMax = defaults.LinkMaxCount
			_ = instance.SetPortState(e.Driver, inst.P, port.StateBlocked)
			e.Sched.Disarm(inst, sched.RingLinkDown)
			inst.MRCState = instance.MRCStateACStat1
		}

	case instance.MRCStatePTIdle:
		if !up && p != inst.P {
			inst.RingLinkCurrMax = defaults.LinkMaxCount
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			requestRingLinkDown(e, inst)
			inst.MRCState = instance.MRCStateDE
		} else if !up && p == inst.P {
			inst.RingLinkCurrMax = defaults.LinkMaxCount
			inst.SwapPrimarySecondary()
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			requestRingLinkDown(e, inst)
			inst.MRCState = instance.MRCStateDE
		}
	}
}

// startClearFDB arms the clear_fdb timer for interval, flushing
// immediately when interval is zero, mrp_clear_fdb_start.
func startClearFDB(e instance.Env, inst *instance.Instance, interval time.Duration) {
	e.Sched.Arm(inst, sched.ClearFDB, interval)
	if interval == 0 {
		_ = e.Driver.FlushFDB(inst)
	}
}

// ReceiveRingTopo handles a RingTopoChange frame while the instance holds
// the MRC role, grounded on mrp_mrc_recv_ring_topo.
func ReceiveRingTopo(e instance.Env, inst *instance.Instance, hdr *frame.RingTopoChange) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	interval := time.Duration(hdr.Interval) * time.Millisecond

	switch inst.MRCState {
	case instance.MRCStateACStat1:
		// Ignore.
	case instance.MRCStateDEIdle:
		startClearFDB(e, inst, interval)
	case instance.MRCStatePT:
		inst.RingLinkCurrMax = defaults.LinkMaxCount
		e.Sched.Disarm(inst, sched.RingLinkUp)
		_ = instance.SetPortState(e.Driver, inst.S, port.StateForwarding)
		startClearFDB(e, inst, interval)
		inst.MRCState = instance.MRCStatePTIdle
	case instance.MRCStateDE:
		inst.RingLinkCurrMax = defaults.LinkMaxCount
		e.Sched.Disarm(inst, sched.RingLinkDown)
		startClearFDB(e, inst, interval)
		inst.MRCState = instance.MRCStateDEIdle
	case instance.MRCStatePTIdle:
		startClearFDB(e, inst, interval)
	}
}

// RingLinkUpTimerExpired is the ring_link_up timer's expiry handler,
// mrp_ring_link_up_expired: counts down a repeating RingLinkUp
// announcement, then declares the secondary port Forwarding.
func RingLinkUpTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	if inst.RingLinkCurrMax > 0 {
		inst.RingLinkCurrMax--
		e.Sched.Arm(inst, sched.RingLinkUp, defaults.LinkInterval)
		mrm.RequestRingLink(e, inst, inst.P, true, time.Duration(inst.RingLinkCurrMax)*defaults.LinkInterval)
		return
	}
	inst.RingLinkCurrMax = defaults.LinkMaxCount
	_ = instance.SetPortState(e.Driver, inst.S, port.StateForwarding)
	inst.MRCState = instance.MRCStatePTIdle
	e.Sched.Disarm(inst, sched.RingLinkUp)
}

// RingLinkDownTimerExpired is the ring_link_down timer's expiry handler,
// mrp_ring_link_down_expired.
func RingLinkDownTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	if inst.RingLinkCurrMax > 0 {
		inst.RingLinkCurrMax--
		e.Sched.Arm(inst, sched.RingLinkDown, defaults.LinkInterval)
		mrm.RequestRingLink(e, inst, inst.P, false, time.Duration(inst.RingLinkCurrMax)*defaults.LinkInterval)
		return
	}
	inst.RingLinkCurrMax = defaults.LinkMaxCount
	inst.MRCState = instance.MRCStateDEIdle
	e.Sched.Disarm(inst, sched.RingLinkDown)
}

// RingTestTimerExpired is the MRA-support monitor-timer variant of the
// ring_test timer's expiry handler: while an MRA node holds the MRC role
// it still runs a short-interval supervision test and, if its current
// manager goes silent for too long, promotes itself to MRM. Grounded on
// mrp_mrc_ring_test_expired.
func RingTestTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)

	if inst.RingMonCurr <= inst.RingMonCurrMax {
		inst.RingMonCurr++
		e.Sched.Arm(inst, sched.RingTest, defaults.TestShortInterval)
		return
	}

	e.Sched.Arm(inst, sched.RingTest, defaults.TestShortInterval)
	inst.ResetMRMInit()

	switch inst.MRCState {
	case instance.MRCStateDEIdle:
		inst.MRMState = instance.MRMStatePrmUp
		inst.RingRole = instance.RingRoleMRM
	case instance.MRCStatePT:
		inst.MRMState = instance.MRMStateChkRC
		inst.RingRole = instance.RingRoleMRM
	case instance.MRCStateDE:
		inst.MRMState = instance.MRMStatePrmUp
		inst.RingRole = instance.RingRoleMRM
	case instance.MRCStatePTIdle:
		inst.MRMState = instance.MRMStateChkRO
		inst.RingRole = instance.RingRoleMRM
	}
}
