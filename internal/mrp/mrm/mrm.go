// Package mrm implements the Media Redundancy Manager state machine and
// its MRA (auto-manager) extension: the four AC_STAT1/PRM_UP/CHK_RO/CHK_RC
// states spec.md §4.3 names, the primary/secondary link-change matrix, the
// own-RingTest-received handling that drives the ring-test supervision
// timer, and the MRA election exchange (TestMgrNack/TestPropagate) that
// lets two identically configured MRA nodes agree on a single manager.
//
// Grounded on the exact branch structure of the reference bridge MRP
// daemon's mrp_mrm_port_link, mrp_mrm_recv_ring_test, mrp_mra_recv_ring_test,
// mrp_recv_ring_link, mrp_mrm_ring_test_expired, mrp_recv_nack, and
// mrp_recv_propagate (original_source/state_machine.c, timer.c), and on the
// teacher's Session-method style (liveness.Session: exported methods that
// lock internally and mutate state directly) for how handlers are shaped.
package mrm

import (
	"time"

	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/ringmrp/mrpd/internal/mrp/sched"
)

func macOf(inst *instance.Instance) [6]byte {
	var mac [6]byte
	copy(mac[:], inst.BridgeMAC)
	return mac
}

func portRoleOf(p *port.Port) frame.PortRole {
	switch p.Role {
	case port.RoleSecondary:
		return frame.PortRoleSecondary
	case port.RoleInterconnect:
		return frame.PortRoleInterconnect
	default:
		return frame.PortRolePrimary
	}
}

func timestampMS() uint32 { return uint32(time.Now().UnixMilli()) }

// sendRingTestOn emits one RingTest frame out p, grounded on
// mrp_send_ring_test: the original only transmits while the port's
// operstate is up, which here is p.Up().
func sendRingTestOn(e instance.Env, inst *instance.Instance, p *port.Port) {
	if p == nil || !p.Up() {
		return
	}
	state := frame.RingStateOpen
	if inst.MRMState == instance.MRMStateChkRC {
		state = frame.RingStateClosed
	}
	f := &frame.Frame{
		Type: frame.TLVRingTest,
		RingTest: &frame.RingTest{
			Prio:        inst.Priority,
			SA:          macOf(inst),
			PortRole:    portRoleOf(p),
			State:       state,
			Transitions: uint16(inst.RingTransitions),
			Timestamp:   timestampMS(),
		},
	}
	_ = instance.Emit(e.Transport, inst, p, frame.DstTest, f)
}

// SendRingTest emits a RingTest frame on both ring ports, mrp_ring_test_send.
func SendRingTest(e instance.Env, inst *instance.Instance) {
	sendRingTestOn(e, inst, inst.P)
	sendRingTestOn(e, inst, inst.S)
}

// RequestRingTest sends a RingTest burst now and (re)arms the ring_test
// timer for interval, mrp_ring_test_req.
func RequestRingTest(e instance.Env, inst *instance.Instance, interval time.Duration) {
	SendRingTest(e, inst)
	e.Sched.Arm(inst, sched.RingTest, interval)
}

// sendRingTopoOn emits one RingTopoChange frame out p with the given
// interval (ms on the wire, 0 meaning "flush now"), mrp_send_ring_topo.
func sendRingTopoOn(e instance.Env, inst *instance.Instance, p *port.Port, interval time.Duration) {
	if p == nil || !p.Up() {
		return
	}
	f := &frame.Frame{
		Type: frame.TLVRingTopo,
		RingTopoChange: &frame.RingTopoChange{
			Prio:     inst.Priority,
			SA:       macOf(inst),
			Interval: uint16(interval.Milliseconds()),
		},
	}
	_ = instance.Emit(e.Transport, inst, p, frame.DstControl, f)
}

// SendRingTopo emits a RingTopoChange frame on both ring ports,
// mrp_ring_topo_send.
func SendRingTopo(e instance.Env, inst *instance.Instance, interval time.Duration) {
	sendRingTopoOn(e, inst, inst.P, interval)
	sendRingTopoOn(e, inst, inst.S, interval)
}

// RequestRingTopo drives a topology-change announcement, mrp_ring_topo_req:
// with interval==0 it sends one final frame and flushes the FDB; with
// interval>0 it sends an opening burst advertising the full remaining
// window (interval * repeat count) and arms the ring_topo countdown timer.
func RequestRingTopo(e instance.Env, inst *instance.Instance, interval time.Duration) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	SendRingTopo(e, inst, interval*time.Duration(defaults.TopoMaxCount))

	if interval == 0 {
		_ = e.Driver.FlushFDB(inst)
		inst.RingTopoRunning = false
		e.Sched.Disarm(inst, sched.RingTopo)
		return
	}
	inst.RingTopoCurrMax = defaults.TopoMaxCount - 1
	inst.RingTopoRunning = true
	e.Sched.Arm(inst, sched.RingTopo, defaults.TopoInterval)
}

// RingTopoTimerExpired is the ring_topo timer's expiry handler,
// mrp_ring_topo_expired: counts down a repeating burst, then sends a final
// interval=0 frame and flushes the FDB.
func RingTopoTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	if inst.RingTopoCurrMax > 0 {
		SendRingTopo(e, inst, time.Duration(inst.RingTopoCurrMax)*defaults.TopoInterval)
		inst.RingTopoCurrMax--
		e.Sched.Arm(inst, sched.RingTopo, defaults.TopoInterval)
		return
	}
	inst.RingTopoCurrMax = defaults.TopoMaxCount - 1
	_ = e.Driver.FlushFDB(inst)
	SendRingTopo(e, inst, 0)
	inst.RingTopoRunning = false
	e.Sched.Disarm(inst, sched.RingTopo)
}

// sendRingLinkOn emits one RingLinkUp/Down frame out p, mrp_send_ring_link.
func sendRingLinkOn(e instance.Env, inst *instance.Instance, p *port.Port, up bool, interval time.Duration) {
	if p == nil {
		return
	}
	typ := frame.TLVRingLinkDown
	if up {
		typ = frame.TLVRingLinkUp
	}
	blocked := uint16(0)
	if inst.Blocked {
		blocked = 1
	}
	f := &frame.Frame{
		Type: typ,
		RingLinkUp: &frame.RingLink{
			SA:       macOf(inst),
			PortRole: portRoleOf(p),
			Interval: uint16(interval.Milliseconds()),
			Blocked:  blocked,
		},
	}
	if !up {
		f.RingLinkDown, f.RingLinkUp = f.RingLinkUp, nil
	}
	_ = instance.Emit(e.Transport, inst, p, frame.DstControl, f)
}

// RequestRingLink emits a RingLinkUp/Down frame on p, mrp_ring_link_req.
// Called by the mrc package's link-change handling; lives here because
// RingLink frames are only ever emitted by an MRC node, but the wire
// builder is shared with nothing MRM-state-specific.
func RequestRingLink(e instance.Env, inst *instance.Instance, p *port.Port, up bool, interval time.Duration) {
	sendRingLinkOn(e, inst, p, up, interval)
}

// PortLinkChange is the link-state-change handler while the instance holds
// the MRM role (or MRA acting as MRM), grounded on mrp_mrm_port_link.
func PortLinkChange(e instance.Env, inst *instance.Instance, p *port.Port, up bool) {
	defaults := sched.RingDefaultsFor(inst.RingClass)

	switch inst.MRMState {
	case instance.MRMStateACStat1:
		if up && p == inst.P {
			_ = instance.SetPortState(e.Driver, inst.P, port.StateForwarding)
			RequestRingTest(e, inst, defaults.TestInterval)
			inst.MRMState = instance.MRMStatePrmUp
		} else if up && p != inst.P {
			inst.SwapPrimarySecondary()
			_ = instance.SetPortState(e.Driver, inst.P, port.StateForwarding)
			RequestRingTest(e, inst, defaults.TestInterval)
			inst.MRMState = instance.MRMStatePrmUp
		}

	case instance.MRMStatePrmUp:
		if !up && p == inst.P {
			e.Sched.Disarm(inst, sched.RingTest)
			_ = instance.SetPortState(e.Driver, inst.P, port.StateBlocked)
			inst.MRMState = instance.MRMStateACStat1
		} else if up && p != inst.P {
			inst.RingTestCurrMax = defaults.TestMaxMiss - 1
			inst.RingTestCurr = 0
			inst.NoTC = true
			RequestRingTest(e, inst, defaults.TestInterval)
			inst.MRMState = instance.MRMStateChkRC
		}

	case instance.MRMStateChkRO:
		if !up && p == inst.P {
			inst.SwapPrimarySecondary()
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			RequestRingTest(e, inst, defaults.TestInterval)
			RequestRingTopo(e, inst, defaults.TopoInterval)
			inst.MRMState = instance.MRMStatePrmUp
		} else if !up && p != inst.P {
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			inst.MRMState = instance.MRMStatePrmUp
		}

	case instance.MRMStateChkRC:
		if !up && p == inst.P {
			inst.SwapPrimarySecondary()
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			_ = instance.SetPortState(e.Driver, inst.P, port.StateForwarding)
			RequestRingTest(e, inst, defaults.TestInterval)
			RequestRingTopo(e, inst, defaults.TopoInterval)
			inst.RingTransitions++
			inst.MRMState = instance.MRMStatePrmUp
		} else if !up && p != inst.P {
			inst.RingTransitions++
			inst.MRMState = instance.MRMStatePrmUp
		}
	}
}

// better than own, grounded on mrp_better_than_own: lexicographic
// (prio, sa) comparison, lower wins.
func betterThanOwn(inst *instance.Instance, prio uint16, sa [6]byte) bool {
	if prio != inst.Priority {
		return prio < inst.Priority
	}
	return macLess(sa, macOf(inst))
}

func macLess(a, b [6]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ReceiveRingTest dispatches a RingTest frame based on whether it carries
// this instance's own MAC (own test, round-tripped the ring) or a foreign
// one (only meaningful with MRA support), mrp_recv_ring_test.
func ReceiveRingTest(e instance.Env, inst *instance.Instance, hdr *frame.RingTest) {
	if hdr.SA != macOf(inst) {
		if !inst.MRASupport {
			return
		}
		receiveForeignRingTest(e, inst, hdr)
		return
	}
	receiveOwnRingTest(e, inst)
}

// receiveForeignRingTest is mrp_mra_recv_ring_test.
func receiveForeignRingTest(e instance.Env, inst *instance.Instance, hdr *frame.RingTest) {
	switch inst.RingRole {
	case instance.RingRoleMRM:
		if !betterThanOwn(inst, hdr.Prio, hdr.SA) {
			RequestTestMgrNack(e, inst, hdr.SA)
		}
	case instance.RingRoleMRC:
		if hdr.SA == inst.BestNeighbor.MACArray() {
			return
		}
		if betterThanOwn(inst, hdr.Prio, hdr.SA) {
			inst.RingMonCurr = 0
		}
		inst.BestNeighbor.Prio = hdr.Prio
	}
}

// receiveOwnRingTest is mrp_mrm_recv_ring_test: the own-RingTest-received
// handling, the ring-closure detector.
func receiveOwnRingTest(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	topoInterval := defaults.TopoInterval

	switch inst.MRMState {
	case instance.MRMStateACStat1:
		// Ignore.
	case instance.MRMStatePrmUp:
		inst.RingTestCurrMax = defaults.TestMaxMiss - 1
		inst.RingTestCurr = 0
		inst.NoTC = false
		RequestRingTest(e, inst, defaults.TestInterval)
		inst.MRMState = instance.MRMStateChkRC
	case instance.MRMStateChkRO:
		_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
		inst.RingTestCurrMax = defaults.TestMaxMiss - 1
		inst.RingTestCurr = 0
		inst.NoTC = false
		RequestRingTest(e, inst, defaults.TestInterval)
		if inst.ReactOnLinkChange {
			topoInterval = 0
		}
		RequestRingTopo(e, inst, topoInterval)
		inst.MRMState = instance.MRMStateChkRC
	case instance.MRMStateChkRC:
		inst.RingTestCurrMax = defaults.TestMaxMiss - 1
		inst.RingTestCurr = 0
		inst.NoTC = false
	}
}

// RingTestTimerExpired is the MRM-role variant of the ring_test timer's
// expiry handler, mrp_mrm_ring_test_expired.
func RingTestTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.RingDefaultsFor(inst.RingClass)
	switch inst.MRMState {
	case instance.MRMStateACStat1:
		// Ignore.
	case instance.MRMStatePrmUp, instance.MRMStateChkRO:
		inst.AddTest = false
		RequestRingTest(e, inst, defaults.TestInterval)
	case instance.MRMStateChkRC:
		if inst.RingTestCurr >= inst.RingTestCurrMax {
			_ = instance.SetPortState(e.Driver, inst.S, port.StateForwarding)
			inst.RingTestCurrMax = defaults.TestMaxMiss - 1
			inst.RingTestCurr = 0
			inst.AddTest = false
			if !inst.NoTC {
				RequestRingTopo(e, inst, defaults.TopoInterval)
			}
			RequestRingTest(e, inst, defaults.TestInterval)
			inst.RingTransitions++
			inst.MRMState = instance.MRMStateChkRO
		} else {
			inst.RingTestCurr++
			inst.AddTest = false
			RequestRingTest(e, inst, defaults.TestInterval)
		}
	}
}

// ReceiveRingLink handles a RingLinkUp/Down frame while the instance holds
// the MRM role; MRC nodes never process these (the router's process filter
// already filters that), mrp_recv_ring_link.
func ReceiveRingLink(e instance.Env, inst *instance.Instance, typ frame.TLVType) {
	defaults := sched.RingDefaultsFor(inst.RingClass)

	switch inst.MRMState {
	case instance.MRMStateACStat1:
		// Ignore.

	case instance.MRMStatePrmUp:
		if inst.Blocked {
			if inst.AddTest {
				return
			}
			inst.AddTest = true
			RequestRingTest(e, inst, defaults.TestInterval)
			return
		}
		if typ == frame.TLVRingLinkDown {
			return
		}
		if !inst.AddTest {
			inst.AddTest = true
			RequestRingTest(e, inst, defaults.TestShortInterval)
		}
		RequestRingTopo(e, inst, 0)

	case instance.MRMStateChkRO:
		switch {
		case !inst.AddTest && typ == frame.TLVRingLinkUp && inst.Blocked:
			inst.AddTest = true
			RequestRingTest(e, inst, defaults.TestShortInterval)
		case inst.AddTest && typ == frame.TLVRingLinkUp && inst.Blocked:
			// Ignore.
		case inst.AddTest && typ == frame.TLVRingLinkDown:
			// Ignore.
		case !inst.AddTest && typ == frame.TLVRingLinkDown:
			inst.AddTest = true
			RequestRingTest(e, inst, defaults.TestShortInterval)
		case typ == frame.TLVRingLinkUp && !inst.Blocked:
			_ = instance.SetPortState(e.Driver, inst.S, port.StateBlocked)
			inst.RingTestCurrMax = defaults.TestMaxMiss - 1
			inst.RingTestCurr = 0
			if !inst.AddTest {
				RequestRingTest(e, inst, defaults.TestShortInterval)
				inst.AddTest = true
			} else {
				RequestRingTest(e, inst, defaults.TestInterval)
			}
			RequestRingTopo(e, inst, 0)
			inst.MRMState = instance.MRMStateChkRC
		}

	case instance.MRMStateChkRC:
		switch {
		case inst.AddTest && !inst.ReactOnLinkChange && inst.Blocked:
			// Ignore.
		case !inst.AddTest && !inst.ReactOnLinkChange && inst.Blocked:
			inst.AddTest = true
			RequestRingTest(e, inst, defaults.TestShortInterval)
		case typ == frame.TLVRingLinkDown && inst.ReactOnLinkChange:
			_ = instance.SetPortState(e.Driver, inst.S, port.StateForwarding)
			inst.RingTransitions++
			RequestRingTopo(e, inst, 0)
			inst.MRMState = instance.MRMStateChkRO
		case typ == frame.TLVRingLinkUp && inst.ReactOnLinkChange && !inst.Blocked:
			inst.RingTestCurrMax = defaults.TestMaxMiss - 1
			RequestRingTopo(e, inst, 0)
		case typ == frame.TLVRingLinkUp && inst.ReactOnLinkChange && inst.Blocked:
			inst.RingTestCurrMax = defaults.TestMaxMiss - 1
			RequestRingTopo(e, inst, 0)
		}
	}
}

// RequestTestMgrNack sends an Option TLV carrying a TestMgrNack sub-TLV
// on both ring ports, mrp_test_mgr_nack_req.
func RequestTestMgrNack(e instance.Env, inst *instance.Instance, foreignSA [6]byte) {
	send := func(p *port.Port) {
		if p == nil || !p.Up() {
			return
		}
		f := &frame.Frame{
			Type: frame.TLVOption,
			TestMgrNack: &frame.TestMgrNack{
				Prio:    inst.Priority,
				SA:      macOf(inst),
				OtherSA: foreignSA,
			},
		}
		_ = instance.Emit(e.Transport, inst, p, frame.DstTest, f)
	}
	send(inst.P)
	send(inst.S)
}

// RequestTestPropagate announces the MRA's belief about the ring's actual
// (prio, mac) manager, mrp_test_prop_req, sent right after an MRA steps
// down from MRM to MRC.
func RequestTestPropagate(e instance.Env, inst *instance.Instance) {
	send := func(p *port.Port) {
		if p == nil || !p.Up() {
			return
		}
		f := &frame.Frame{
			Type: frame.TLVOption,
			TestPropagate: &frame.TestPropagate{
				Prio:      inst.Priority,
				SA:        macOf(inst),
				OtherPrio: inst.BestNeighbor.Prio,
				OtherSA:   inst.BestNeighbor.MACArray(),
			},
		}
		_ = instance.Emit(e.Transport, inst, p, frame.DstTest, f)
	}
	send(inst.P)
	send(inst.S)
}

// betterThanHost compares a TestMgrNack's declared "other" (prio, sa)
// against this instance's current best-known ring manager,
// mrp_better_than_host.
func betterThanHost(inst *instance.Instance, prio uint16, sa [6]byte) bool {
	if prio != inst.BestNeighbor.Prio {
		return prio < inst.BestNeighbor.Prio
	}
	return macLess(sa, inst.BestNeighbor.MACArray())
}

// ReceiveNack handles a TestMgrNack sub-TLV: an MRA holding the MRM role
// steps down to MRC once it learns a better-positioned node exists,
// mrp_recv_nack.
func ReceiveNack(e instance.Env, inst *instance.Instance, hdr *frame.TestMgrNack) {
	if inst.RingRole == instance.RingRoleMRC {
		return
	}
	if hdr.SA == macOf(inst) {
		return
	}
	if hdr.OtherSA != macOf(inst) {
		return
	}

	if betterThanHost(inst, hdr.Prio, hdr.SA) {
		inst.BestNeighbor.Prio = hdr.Prio
		inst.BestNeighbor.MAC = append([]byte(nil), hdr.SA[:]...)
	}

	if inst.MRMState == instance.MRMStateChkRC {
		_ = instance.SetPortState(e.Driver, inst.S, port.StateForwarding)
	}

	e.Sched.Disarm(inst, sched.RingTopo)
	inst.RingTopoRunning = false
	inst.ResetMRCInit()
	RequestTestPropagate(e, inst)

	switch inst.MRMState {
	case instance.MRMStatePrmUp:
		inst.MRCState = instance.MRCStateDEIdle
		inst.RingRole = instance.RingRoleMRC
	case instance.MRMStateChkRO:
		inst.MRCState = instance.MRCStatePTIdle
		inst.RingRole = instance.RingRoleMRC
	case instance.MRMStateChkRC:
		inst.MRCState = instance.MRCStatePTIdle
		inst.RingRole = instance.RingRoleMRC
	}
}

// ReceivePropagate handles a TestPropagate sub-TLV: an MRA still holding
// MRC adopts the propagated (prio, mac) as its tracked ring manager,
// mrp_recv_propagate.
func ReceivePropagate(inst *instance.Instance, hdr *frame.TestPropagate) {
	if inst.RingRole == instance.RingRoleMRM {
		return
	}
	if hdr.SA != macOf(inst) {
		return
	}
	if hdr.OtherPrio != hdr.Prio {
		return
	}
	inst.BestNeighbor.Prio = hdr.OtherPrio
	inst.BestNeighbor.MAC = append([]byte(nil), hdr.OtherSA[:]...)
	inst.RingMonCurr = 0
}

// ReceiveRingTopoMRA handles a RingTopoChange frame while an MRA holds the
// MRM role: it only reacts to a foreign sender by starting the FDB-clear
// timer, mrp_mra_recv_ring_topo.
func ReceiveRingTopoMRA(e instance.Env, inst *instance.Instance, hdr *frame.RingTopoChange) {
	if hdr.SA == macOf(inst) {
		return
	}
	e.Sched.Arm(inst, sched.ClearFDB, time.Duration(hdr.Interval)*time.Millisecond)
	if hdr.Interval == 0 {
		_ = e.Driver.FlushFDB(inst)
	}
}
