// Package mim implements the interconnect-ring state machines: the
// Media Interconnection Manager (MIM, three states AC_STAT1/CHK_IO/CHK_IC)
// and the Media Interconnection Client (MIC, three states
// AC_STAT1/PT/IP_IDLE) spec.md §4.6 names, in both of the interconnect's
// two status-determination modes: RC (status derived from the ring
// protocol's own InTest/InTopologyChange/InLink exchange) and LC (status
// derived from an external CFM CCM session via InLinkStatusPoll).
//
// Grounded on mrp_mim_port_link, mrp_mic_port_link, mrp_mim_recv_in_test,
// mrp_recv_in_test, mrp_recv_in_topo, mrp_recv_in_link, and
// mrp_recv_in_link_status (original_source/state_machine.c), and the five
// interconnect timer-expiry handlers in original_source/timer.c, in the
// same Env-plus-free-function style as internal/mrp/mrm and
// internal/mrp/mrc.
package mim

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

// sendInTestOn emits one InTest frame out p, grounded on mrp_send_in_test:
// the state byte reports Closed while the MIM has verified interconnect
// continuity (CHK_IC), Open otherwise.
func sendInTestOn(e instance.Env, inst *instance.Instance, p *port.Port) {
	if p == nil || !p.Up() {
		return
	}
	state := frame.RingStateOpen
	if inst.MIMState == instance.MIMStateChkIC {
		state = frame.RingStateClosed
	}
	f := &frame.Frame{
		Type: frame.TLVInTest,
		InTest: &frame.InTest{
			SA:          macOf(inst),
			ID:          inst.InID,
			PortRole:    portRoleOf(p),
			State:       state,
			Transitions: uint16(inst.InTransitions),
			Timestamp:   timestampMS(),
		},
	}
	_ = instance.Emit(e.Transport, inst, p, frame.DstInTest, f)
}

// SendInTest emits an InTest frame on all three ports, mrp_in_test_send.
func SendInTest(e instance.Env, inst *instance.Instance) {
	sendInTestOn(e, inst, inst.P)
	sendInTestOn(e, inst, inst.S)
	sendInTestOn(e, inst, inst.I)
}

// RequestInTest sends an InTest burst now and (re)arms the in_test timer
// for interval, mrp_in_test_req.
func RequestInTest(e instance.Env, inst *instance.Instance, interval time.Duration) {
	SendInTest(e, inst)
	e.Sched.Arm(inst, sched.InTest, interval)
}

// sendInTopoOn emits one InTopoChange frame out p; interval 0 means
// "flush now", mrp_send_in_topo.
func sendInTopoOn(e instance.Env, inst *instance.Instance, p *port.Port, interval time.Duration) {
	if p == nil || !p.Up() {
		return
	}
	f := &frame.Frame{
		Type: frame.TLVInTopo,
		InTopoChange: &frame.InTopoChange{
			SA:       macOf(inst),
			ID:       inst.InID,
			Interval: uint16(interval / time.Millisecond),
		},
	}
	_ = instance.Emit(e.Transport, inst, p, frame.DstInControl, f)
}

// SendInTopo emits an InTopoChange frame on all three ports, mrp_in_topo_send.
func SendInTopo(e instance.Env, inst *instance.Instance, interval time.Duration) {
	sendInTopoOn(e, inst, inst.P, interval)
	sendInTopoOn(e, inst, inst.S, interval)
	sendInTopoOn(e, inst, inst.I, interval)
}

// RequestInTopo sends an InTopoChange burst now and either flushes the FDB
// immediately (interval == 0) or arms the in_topo timer, mrp_in_topo_req.
func RequestInTopo(e instance.Env, inst *instance.Instance, interval time.Duration) {
	defaults := sched.InDefaultsFor(inst.InClass)
	SendInTopo(e, inst, interval*time.Duration(defaults.TopoMaxCount))

	if interval == 0 {
		_ = e.Driver.FlushFDB(inst)
		return
	}
	e.Sched.Arm(inst, sched.InTopo, defaults.TopoInterval)
}

// InTopoTimerExpired is the in_topo timer's expiry handler, mrp_in_topo_expired.
func InTopoTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.InDefaultsFor(inst.InClass)
	if inst.InTopoCurrMax > 0 {
		SendInTopo(e, inst, time.Duration(inst.InTopoCurrMax)*defaults.TopoInterval)
		inst.InTopoCurrMax--
		e.Sched.Arm(inst, sched.InTopo, defaults.TopoInterval)
		return
	}
	inst.InTopoCurrMax = defaults.TopoMaxCount - 1
	_ = e.Driver.FlushFDB(inst)
	SendInTopo(e, inst, 0)
	e.Sched.Disarm(inst, sched.InTopo)
}

// sendInLinkOn emits one InLinkUp/Down frame out p, mrp_send_in_link.
func sendInLinkOn(e instance.Env, inst *instance.Instance, p *port.Port, up bool, interval time.Duration) {
	if p == nil || !p.Up() {
		return
	}
	typ := frame.TLVInLinkDown
	if up {
		typ = frame.TLVInLinkUp
	}
	link := &frame.InLink{
		SA:       macOf(inst),
		PortRole: portRoleOf(p),
		ID:       inst.InID,
		Interval: uint16(interval / time.Millisecond),
	}
	f := &frame.Frame{Type: typ}
	if up {
		f.InLinkUp = link
	} else {
		f.InLinkDown = link
	}
	_ = instance.Emit(e.Transport, inst, p, frame.DstInControl, f)
}

// RequestInLink emits an InLinkUp/Down frame on all three ports,
// mrp_in_link_req.
func RequestInLink(e instance.Env, inst *instance.Instance, up bool, interval time.Duration) {
	sendInLinkOn(e, inst, inst.P, up, interval)
	sendInLinkOn(e, inst, inst.S, up, interval)
	sendInLinkOn(e, inst, inst.I, up, interval)
}

// sendInLinkStatusOn emits one InLinkStatusPoll frame out p,
// mrp_send_in_link_status.
func sendInLinkStatusOn(e instance.Env, inst *instance.Instance, p *port.Port) {
	if p == nil || !p.Up() {
		return
	}
	f := &frame.Frame{
		Type: frame.TLVInLinkStatus,
		InLinkStatusPoll: &frame.InLinkStatusPoll{
			SA:       macOf(inst),
			PortRole: portRoleOf(p),
			ID:       inst.InID,
		},
	}
	_ = instance.Emit(e.Transport, inst, p, frame.DstInControl, f)
}

// RequestInLinkStatus emits an InLinkStatusPoll frame on both ring ports
// and, if interval is nonzero, re-arms the in_link_status timer,
// mrp_in_link_status_req.
func RequestInLinkStatus(e instance.Env, inst *instance.Instance, interval time.Duration) {
	defaults := sched.InDefaultsFor(inst.InClass)
	sendInLinkStatusOn(e, inst, inst.P)
	sendInLinkStatusOn(e, inst, inst.S)
	if interval != 0 {
		e.Sched.Arm(inst, sched.InLinkStatus, defaults.LinkInterval)
	}
}

// recvInTest is the common handling for an own InTest frame while the
// instance holds the MIM role, grounded on mrp_mim_recv_in_test.
func recvInTest(e instance.Env, inst *instance.Instance) {
	defaults := sched.InDefaultsFor(inst.InClass)

	switch inst.MIMState {
	case instance.MIMStateACStat1:
		_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
		inst.InTestCurrMax = defaults.TestMaxMiss - 1
		inst.InTestCurr = 0
		RequestInTest(e, inst, defaults.TestInterval)
		inst.MIMState = instance.MIMStateChkIC

	case instance.MIMStateChkIO:
		_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
		inst.InTestCurrMax = defaults.TestMaxMiss - 1
		inst.InTestCurr = 0
		RequestInTopo(e, inst, defaults.TopoInterval)
		RequestInTest(e, inst, defaults.TestInterval)
		inst.MIMState = instance.MIMStateChkIC

	case instance.MIMStateChkIC:
		inst.InTestCurrMax = defaults.TestMaxMiss - 1
		inst.InTestCurr = 0
	}
}

// ReceiveInTest handles an InTest frame for the interconnect ring named by
// hdr.ID, grounded on mrp_recv_in_test: frames addressed to a different
// interconnect ring are ignored.
func ReceiveInTest(e instance.Env, inst *instance.Instance, hdr *frame.InTest) {
	if hdr.ID != inst.InID {
		return
	}
	recvInTest(e, inst)
}

// ReceiveInTopo handles an InTopoChange frame, grounded on
// mrp_recv_in_topo: the ring-role and in-role branches are independent —
// an MRM that also holds an in-role runs both.
func ReceiveInTopo(e instance.Env, inst *instance.Instance, hdr *frame.InTopoChange, ringTopoReq func(interval time.Duration)) {
	if inst.RingRole == instance.RingRoleMRM && !inst.RingTopoRunning {
		ringTopoReq(time.Duration(hdr.Interval) * time.Millisecond)
	}

	if inst.InRole == instance.InRoleMIM {
		if hdr.SA == macOf(inst) {
			return
		}
		e.Sched.Arm(inst, sched.ClearFDB, time.Duration(hdr.Interval)*time.Millisecond)
		if hdr.Interval == 0 {
			_ = e.Driver.FlushFDB(inst)
		}
	}

	if inst.InRole == instance.InRoleMIC {
		switch inst.MICState {
		case instance.MICStateACStat1:
			if hdr.ID == inst.InID {
				e.Sched.Disarm(inst, sched.InLinkDown)
			}
		case instance.MICStatePT:
			defaults := sched.InDefaultsFor(inst.InClass)
			inst.InLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.InLinkUp)
			_ = instance.SetPortState(e.Driver, inst.I, port.StateForwarding)
			inst.MICState = instance.MICStateIPIdle
		case instance.MICStateIPIdle:
			// Ignore.
		}
	}
}

// ReceiveInLink handles an InLinkUp/InLinkDown frame while the instance
// holds the MIM role, grounded on mrp_recv_in_link.
func ReceiveInLink(e instance.Env, inst *instance.Instance, hdr *frame.InLink, up bool) {
	defaults := sched.InDefaultsFor(inst.InClass)

	switch inst.MIMState {
	case instance.MIMStateACStat1:
		// Ignore.
	case instance.MIMStateChkIO:
		if hdr.ID == inst.InID && up {
			RequestInTest(e, inst, defaults.TestInterval)
		}
	case instance.MIMStateChkIC:
		if hdr.ID == inst.InID && up {
			inst.InTestCurrMax = defaults.TestMaxMiss
			RequestInTopo(e, inst, defaults.TopoInterval)
		}
		if hdr.ID == inst.InID && !up {
			_ = instance.SetPortState(e.Driver, inst.I, port.StateForwarding)
			RequestInTopo(e, inst, defaults.TopoInterval)
			inst.MIMState = instance.MIMStateChkIO
		}
	}
}

// ReceiveInLinkStatus handles an InLinkStatusPoll frame while the instance
// holds the MIC role in LC mode, grounded on mrp_recv_in_link_status.
func ReceiveInLinkStatus(e instance.Env, inst *instance.Instance, hdr *frame.InLinkStatusPoll) {
	if inst.InRole != instance.InRoleMIC || inst.InMode != instance.InModeLC {
		return
	}
	if hdr.ID != inst.InID {
		return
	}

	switch inst.MICState {
	case instance.MICStateACStat1:
		RequestInLink(e, inst, false, 0)
	case instance.MICStatePT:
		RequestInLink(e, inst, true, 0)
	case instance.MICStateIPIdle:
		RequestInLink(e, inst, true, 0)
	}
}

// InTestTimerExpired is the in_test timer's expiry handler,
// mrp_in_test_expired. CHK_IC's "budget exhausted" branch transitions
// the MIM back to CHK_IO: the original source calls the MRM-state setter
// with a MIM-state constant there (mrp_set_mrm_state(mrp,
// MRP_MIM_STATE_CHK_IO)), which is an evident cut/paste slip against a
// differently-typed setter — this implements the clearly intended
// transition, a plain MIMState assignment, instead of reproducing it.
func InTestTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.InDefaultsFor(inst.InClass)

	switch inst.MIMState {
	case instance.MIMStateACStat1:
		// Ignore.
	case instance.MIMStateChkIO:
		RequestInTest(e, inst, defaults.TestInterval)
	case instance.MIMStateChkIC:
		if inst.InTestCurr >= inst.InTestCurrMax {
			_ = instance.SetPortState(e.Driver, inst.I, port.StateForwarding)
			inst.InTestCurrMax = defaults.TestMaxMiss - 1
			inst.InTestCurr = 0
			RequestInTopo(e, inst, defaults.TopoInterval)
			RequestInTest(e, inst, defaults.TestInterval)
			inst.InTransitions++
			inst.MIMState = instance.MIMStateChkIO
		} else {
			inst.InTestCurr++
			RequestInTest(e, inst, defaults.TestInterval)
		}
	}
}

// InLinkUpTimerExpired is the in_link_up timer's expiry handler,
// mrp_in_link_up_expired.
func InLinkUpTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.InDefaultsFor(inst.InClass)
	if inst.InLinkCurrMax > 0 {
		inst.InLinkCurrMax--
		e.Sched.Arm(inst, sched.InLinkUp, defaults.LinkInterval)
		RequestInLink(e, inst, true, time.Duration(inst.InLinkCurrMax)*defaults.LinkInterval)
		return
	}
	inst.InLinkCurrMax = defaults.LinkMaxCount
	_ = instance.SetPortState(e.Driver, inst.I, port.StateForwarding)
	inst.MICState = instance.MICStateIPIdle
	e.Sched.Disarm(inst, sched.InLinkUp)
}

// InLinkDownTimerExpired is the in_link_down timer's expiry handler,
// mrp_in_link_down_expired.
func InLinkDownTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.InDefaultsFor(inst.InClass)
	if inst.InLinkCurrMax > 0 {
		inst.InLinkCurrMax--
		e.Sched.Arm(inst, sched.InLinkDown, defaults.LinkInterval)
		RequestInLink(e, inst, false, time.Duration(inst.InLinkCurrMax)*defaults.LinkInterval)
		return
	}
	inst.InLinkCurrMax = defaults.LinkMaxCount
	e.Sched.Disarm(inst, sched.InLinkDown)
}

// InLinkStatusTimerExpired is the in_link_status timer's expiry handler,
// mrp_in_link_status_expired.
func InLinkStatusTimerExpired(e instance.Env, inst *instance.Instance) {
	defaults := sched.InDefaultsFor(inst.InClass)
	if inst.InLinkStatusMax > 0 {
		inst.InLinkStatusMax--
		RequestInLinkStatus(e, inst, time.Duration(inst.InLinkStatusMax)*defaults.LinkInterval)
		return
	}
	inst.InLinkStatusMax = defaults.TopoMaxCount
	e.Sched.Disarm(inst, sched.InLinkStatus)
}

// MIMPortLinkChange is the link-state-change handler for the interconnect
// port while the instance holds the MIM role, covering both RC and LC
// in_mode, grounded on mrp_mim_port_link.
func MIMPortLinkChange(e instance.Env, inst *instance.Instance, up bool) {
	defaults := sched.InDefaultsFor(inst.InClass)

	switch {
	case up && inst.InMode == instance.InModeRC:
		switch inst.MIMState {
		case instance.MIMStateACStat1:
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			inst.InTestCurrMax = defaults.TestMaxMiss - 1
			inst.InTestCurr = 0
			RequestInTest(e, inst, defaults.TestInterval)
			inst.MIMState = instance.MIMStateChkIC
		case instance.MIMStateChkIO, instance.MIMStateChkIC:
			// Ignore.
		}

	case !up && inst.InMode == instance.InModeRC:
		switch inst.MIMState {
		case instance.MIMStateACStat1:
			// Ignore.
		case instance.MIMStateChkIO, instance.MIMStateChkIC:
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			RequestInTopo(e, inst, defaults.TopoInterval)
			RequestInTest(e, inst, defaults.TestInterval)
			inst.MIMState = instance.MIMStateACStat1
		}

	case up && inst.InMode == instance.InModeLC:
		switch inst.MIMState {
		case instance.MIMStateACStat1:
			inst.InLinkStatusMax = defaults.TopoMaxCount
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			RequestInLinkStatus(e, inst, defaults.LinkInterval)
			inst.MIMState = instance.MIMStateChkIC
		case instance.MIMStateChkIO, instance.MIMStateChkIC:
			// Ignore.
		}

	case !up && inst.InMode == instance.InModeLC:
		switch inst.MIMState {
		case instance.MIMStateACStat1:
			// Ignore.
		case instance.MIMStateChkIO:
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			e.Sched.Disarm(inst, sched.InLinkStatus)
			inst.MIMState = instance.MIMStateACStat1
		case instance.MIMStateChkIC:
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			inst.MIMState = instance.MIMStateACStat1
		}
	}
}

// MICPortLinkChange is the link-state-change handler for the interconnect
// port while the instance holds the MIC role, covering both RC and LC
// in_mode, grounded on mrp_mic_port_link.
func MICPortLinkChange(e instance.Env, inst *instance.Instance, up bool) {
	defaults := sched.InDefaultsFor(inst.InClass)
	announceInterval := time.Duration(defaults.LinkMaxCount) * defaults.LinkInterval

	switch {
	case up && inst.InMode == instance.InModeRC:
		switch inst.MICState {
		case instance.MICStateACStat1:
			inst.InLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.InLinkDown)
			e.Sched.Arm(inst, sched.InLinkUp, defaults.LinkInterval)
			RequestInLink(e, inst, true, announceInterval)
			inst.MICState = instance.MICStatePT
		case instance.MICStatePT, instance.MICStateIPIdle:
			// Ignore.
		}

	case !up && inst.InMode == instance.InModeRC:
		switch inst.MICState {
		case instance.MICStateACStat1:
			// Ignore.
		case instance.MICStatePT:
			inst.InLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.InLinkUp)
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			e.Sched.Arm(inst, sched.InLinkDown, defaults.LinkInterval)
			RequestInLink(e, inst, false, announceInterval)
			inst.MICState = instance.MICStateACStat1
		case instance.MICStateIPIdle:
			inst.InLinkCurrMax = defaults.LinkMaxCount
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			e.Sched.Arm(inst, sched.InLinkDown, defaults.LinkInterval)
			RequestInLink(e, inst, false, announceInterval)
			inst.MICState = instance.MICStateACStat1
		}

	case up && inst.InMode == instance.InModeLC:
		switch inst.MICState {
		case instance.MICStateACStat1:
			inst.InLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.InLinkDown)
			e.Sched.Arm(inst, sched.InLinkUp, defaults.LinkInterval)
			RequestInLink(e, inst, true, announceInterval)
			inst.MICState = instance.MICStatePT
		case instance.MICStatePT, instance.MICStateIPIdle:
			// Ignore.
		}

	case !up && inst.InMode == instance.InModeLC:
		switch inst.MICState {
		case instance.MICStateACStat1:
			// Ignore.
		case instance.MICStatePT, instance.MICStateIPIdle:
			inst.InLinkCurrMax = defaults.LinkMaxCount
			e.Sched.Disarm(inst, sched.InLinkUp)
			_ = instance.SetPortState(e.Driver, inst.I, port.StateBlocked)
			e.Sched.Arm(inst, sched.InLinkDown, defaults.LinkInterval)
			RequestInLink(e, inst, false, announceInterval)
			inst.MICState = instance.MICStateACStat1
		}
	}
}
