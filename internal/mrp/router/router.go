// Package router implements the per-frame drop/process/forward filter
// every received MRP PDU passes through before reaching a state machine:
// ShouldDrop decides whether a frame is discarded outright, ShouldProcess
// decides whether the local instance's state machine consumes it, and
// CheckAndForward decides which of the instance's other ports re-transmit
// it unchanged.
//
// Grounded on mrp_should_drop, mrp_should_process, mrp_is_ring_frame,
// mrp_is_in_frame, and mrp_check_and_forward
// (original_source/state_machine.c) — the three filters a real MRP node
// applies to every frame arriving on any of its MRP ports.
package router

import (
	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/port"
)

// ShouldDrop reports whether a frame of type arriving on p must be
// discarded before it is even considered for processing or forwarding,
// grounded on mrp_should_drop.
func ShouldDrop(p *port.Port, typ frame.TLVType) bool {
	if p.State == port.StateDisabled {
		return true
	}

	if p.Role != port.RoleInterconnect {
		if p.State == port.StateBlocked &&
			typ != frame.TLVRingTopo &&
			typ != frame.TLVRingTest &&
			typ != frame.TLVRingLinkUp &&
			typ != frame.TLVRingLinkDown &&
			typ != frame.TLVInTopo &&
			typ != frame.TLVInLinkUp &&
			typ != frame.TLVInLinkDown &&
			typ != frame.TLVOption {
			return true
		}
		return false
	}

	if p.State == port.StateBlocked &&
		typ != frame.TLVInTest &&
		typ != frame.TLVInLinkUp &&
		typ != frame.TLVInLinkDown &&
		typ != frame.TLVInTopo {
		return true
	}
	return false
}

// ShouldProcess reports whether inst's state machine should consume a
// frame of type typ, grounded on mrp_should_process.
//
// The original's TLVHeaderOption case falls through into the IN_TEST case
// without a break — a node with mra_support processes an Option frame
// (correct) and then, through the fallthrough, is also treated as if it
// were evaluating an InTest frame's condition (in_role == MIM), which is
// almost always false for an MRA node and so rarely changes the outcome,
// but is clearly not the intended control flow for a type-switch. This
// implements the evidently intended rule instead of reproducing the
// fallthrough: Option frames are processed when mraSupport is set OR the
// instance holds the MIM role.
func ShouldProcess(inst *instance.Instance, typ frame.TLVType) bool {
	switch typ {
	case frame.TLVRingTest:
		return inst.RingRole == instance.RingRoleMRM ||
			(inst.RingRole == instance.RingRoleMRC && inst.MRASupport)
	case frame.TLVRingLinkUp, frame.TLVRingLinkDown:
		return inst.RingRole == instance.RingRoleMRM
	case frame.TLVRingTopo:
		return inst.RingRole == instance.RingRoleMRC ||
			(inst.RingRole == instance.RingRoleMRM && inst.MRASupport)
	case frame.TLVOption:
		return inst.MRASupport || inst.InRole == instance.InRoleMIM
	case frame.TLVInTest:
		return inst.InRole == instance.InRoleMIM
	case frame.TLVInTopo:
		return inst.InRole == instance.InRoleMIC ||
			inst.InRole == instance.InRoleMIM ||
			inst.RingRole == instance.RingRoleMRM
	case frame.TLVInLinkUp, frame.TLVInLinkDown:
		return inst.InRole == instance.InRoleMIM
	}
	return false
}

// isRingFrame and isInFrame classify a TLV type as belonging to the ring
// protocol or the interconnect protocol, grounded on mrp_is_ring_frame
// and mrp_is_in_frame. InLinkStatus is an in-frame that is never a
// ring-frame; TLVOption is only ever a ring-frame (MRA election traffic).
func isRingFrame(typ frame.TLVType) bool {
	switch typ {
	case frame.TLVRingTest, frame.TLVRingTopo, frame.TLVRingLinkUp, frame.TLVRingLinkDown, frame.TLVOption:
		return true
	}
	return false
}

func isInFrame(typ frame.TLVType) bool {
	switch typ {
	case frame.TLVInTest, frame.TLVInTopo, frame.TLVInLinkUp, frame.TLVInLinkDown, frame.TLVInLinkStatus:
		return true
	}
	return false
}

// CheckAndForward decides which of inst's other ports should retransmit
// an unmodified frame received on rx, and returns them (nil entries
// omitted). Grounded on mrp_check_and_forward, the most intricate
// function in the reference daemon: the returned set starts as "every
// port except rx" and is narrowed by the frame's ring/interconnect class
// and the instance's roles.
//
// inTestSA and inTestID are the frame's source MAC and interconnect id —
// every in-frame header carries an id field at the same position, and an
// MRM-role MIM/MIC additionally compares the source MAC for InTest frames
// (to recognize its own test frames looping back around the ring), so
// callers must supply both for any isInFrame(typ) == true frame (a zero
// SA is only ever compared for TLVInTest).
func CheckAndForward(inst *instance.Instance, rx *port.Port, typ frame.TLVType, inTestSA [6]byte, inTestID uint16) []*port.Port {
	var fwdP, fwdS, fwdI *port.Port

	switch rx {
	case inst.P:
		fwdS, fwdI = inst.S, inst.I
	case inst.S:
		fwdP, fwdI = inst.P, inst.I
	case inst.I:
		fwdP, fwdS = inst.P, inst.S
	}

	if isRingFrame(typ) {
		if rx == inst.I {
			return nil
		}
		fwdI = nil

		switch inst.RingRole {
		case instance.RingRoleMRM:
			return nil
		case instance.RingRoleMRC:
			if typ == frame.TLVOption && !inst.MRASupport {
				return nil
			}
		}
	}

	if isInFrame(typ) {
		isRingPort := rx == inst.P || rx == inst.S
		isInPort := rx == inst.I

		switch inst.RingRole {
		case instance.RingRoleMRM:
			if isRingPort && (inst.P.State != port.StateForwarding || inst.S.State != port.StateForwarding) {
				fwdP, fwdS = nil, nil
			}
		case instance.RingRoleMRC:
			if inst.InRole != instance.InRoleDisabled && inst.InID == inTestID && isRingPort {
				fwdP, fwdS = nil, nil
			}
		}

		switch inst.InRole {
		case instance.InRoleMIM:
			if typ == frame.TLVInTest {
				if inTestSA == macArray(inst) {
					return nil
				}
				if isInPort {
					return nil
				}
				fwdI = nil
			} else {
				if isRingPort {
					fwdI = nil
				}
				if isInPort {
					return nil
				}
			}

		case instance.InRoleMIC:
			switch {
			case typ == frame.TLVInTest:
				// forward on every computed port below
			case (typ == frame.TLVInLinkUp || typ == frame.TLVInLinkDown) && isRingPort:
				// forward on every computed port below
			case typ == frame.TLVInLinkStatus && isRingPort:
				fwdP, fwdS = nil, nil
			case typ == frame.TLVInTopo:
				fwdI = nil
			default:
				return nil
			}
		}
	}

	var out []*port.Port
	for _, p := range []*port.Port{fwdP, fwdS, fwdI} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func macArray(inst *instance.Instance) (a [6]byte) {
	copy(a[:], inst.BridgeMAC)
	return a
}
