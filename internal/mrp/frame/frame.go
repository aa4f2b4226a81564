// Package frame implements the MRP PDU wire codec: TLV encode/decode for
// every frame type an MRP, MRA, MIM, or MIC instance can send or receive.
//
// Grounded on the fixed-width binary codec style of the teacher's
// liveness.ControlPacket (Marshal/UnmarshalControlPacket, big-endian,
// explicit byte offsets) and on the growable-buffer-with-backpatched-length
// builder used by the original C daemon's mrp_fb_tlv/mrp_fb_sub_tlv
// helpers in state_machine.c.
package frame

import (
	"encoding/binary"
	"fmt"
)

// EtherType is the MRP ethertype (IEC 62439-2 §C.2).
const EtherType = 0x88E3

// MinFrameLen is the minimum Ethernet frame size MRP frames must be padded
// to before transmission.
const MinFrameLen = 60

// version is the only MRP PDU version this codec understands.
const version = 0x0001

// Well-known destination MAC addresses, all prefixed 01:15:4E:00:00:xx.
var (
	DstTest        = [6]byte{0x01, 0x15, 0x4E, 0x00, 0x00, 0x01}
	DstControl     = [6]byte{0x01, 0x15, 0x4E, 0x00, 0x00, 0x02}
	DstInTest      = [6]byte{0x01, 0x15, 0x4E, 0x00, 0x00, 0x03}
	DstInControl   = [6]byte{0x01, 0x15, 0x4E, 0x00, 0x00, 0x04}
)

// TLVType identifies the type byte of a top-level TLV.
type TLVType uint8

const (
	TLVEnd          TLVType = 0x00
	TLVCommon       TLVType = 0x01
	TLVRingTest     TLVType = 0x02
	TLVRingTopo     TLVType = 0x03
	TLVRingLinkDown TLVType = 0x04
	TLVRingLinkUp   TLVType = 0x05
	TLVInTest       TLVType = 0x06
	TLVInTopo       TLVType = 0x07
	TLVInLinkDown   TLVType = 0x08
	TLVInLinkUp     TLVType = 0x09
	TLVInLinkStatus TLVType = 0x0A
	TLVOption       TLVType = 0x7F
)

func (t TLVType) String() string {
	switch t {
	case TLVEnd:
		return "End"
	case TLVCommon:
		return "Common"
	case TLVRingTest:
		return "RingTest"
	case TLVRingTopo:
		return "RingTopoChange"
	case TLVRingLinkDown:
		return "RingLinkDown"
	case TLVRingLinkUp:
		return "RingLinkUp"
	case TLVInTest:
		return "InTest"
	case TLVInTopo:
		return "InTopoChange"
	case TLVInLinkDown:
		return "InLinkDown"
	case TLVInLinkUp:
		return "InLinkUp"
	case TLVInLinkStatus:
		return "InLinkStatusPoll"
	case TLVOption:
		return "Option"
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(t))
}

// SubTLVType identifies the type byte within an Option TLV's SubOption.
type SubTLVType uint8

const (
	SubTLVTestMgrNack    SubTLVType = 0x01
	SubTLVTestPropagate  SubTLVType = 0x02
)

func (t SubTLVType) String() string {
	switch t {
	case SubTLVTestMgrNack:
		return "TestMgrNack"
	case SubTLVTestPropagate:
		return "TestPropagate"
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(t))
}

// PortRole identifies which ring/interconnect port emitted a frame.
type PortRole uint16

const (
	PortRolePrimary      PortRole = 0
	PortRoleSecondary    PortRole = 1
	PortRoleInterconnect PortRole = 2
)

// RingState is the open/closed indication carried in a RingTest frame.
type RingState uint16

const (
	RingStateOpen   RingState = 0
	RingStateClosed RingState = 1
)

// Errors returned by Decode. They all classify as mrperr.KindProtocolParse
// at the call site (the router), not here, to keep this package
// dependency-free of the error taxonomy's logging concerns.
var (
	ErrFrameTooShort = fmt.Errorf("frame: too short")
	ErrBadVersion    = fmt.Errorf("frame: unsupported version")
	ErrTruncatedTLV  = fmt.Errorf("frame: truncated tlv")
)

// UnknownTLVError marks a syntactically well-formed TLV of a type this
// codec does not know how to interpret. Decode skips such TLVs and keeps
// decoding; it returns this error only when a frame carries no recognized
// body TLV, or an Option TLV with a sub-type it does not implement.
type UnknownTLVError struct {
	Type TLVType
}

func (e *UnknownTLVError) Error() string {
	return fmt.Sprintf("frame: unknown tlv type 0x%02x", uint8(e.Type))
}

// Common is the mandatory trailing TLV present in every MRP frame.
type Common struct {
	SeqID  uint16
	Domain [16]byte
}

// RingTest is the periodic MRM test probe body.
type RingTest struct {
	Prio        uint16
	SA          [6]byte
	PortRole    PortRole
	State       RingState
	Transitions uint16
	Timestamp   uint32 // milliseconds, monotonic
}

// RingTopoChange instructs MRCs to flush their FDB (interval=0) or
// announces a bounded repeat window (interval>0).
type RingTopoChange struct {
	Prio     uint16
	SA       [6]byte
	Interval uint16 // ms; 0 means "flush now"
}

// RingLink carries a ring port's link-up or link-down announcement.
type RingLink struct {
	SA       [6]byte
	PortRole PortRole
	Interval uint16 // ms
	Blocked  uint16
}

// InTest is the interconnect-ring analogue of RingTest.
type InTest struct {
	SA          [6]byte
	ID          uint16
	PortRole    PortRole
	State       RingState
	Transitions uint16
	Timestamp   uint32
}

// InTopoChange is the interconnect-ring analogue of RingTopoChange.
type InTopoChange struct {
	SA       [6]byte
	ID       uint16
	Interval uint16
}

// InLink is the interconnect-ring analogue of RingLink.
type InLink struct {
	SA       [6]byte
	PortRole PortRole
	ID       uint16
	Interval uint16
}

// InLinkStatusPoll requests an immediate InLinkUp/Down reply from the peer
// interconnect port (LC mode).
type InLinkStatusPoll struct {
	SA       [6]byte
	PortRole PortRole
	ID       uint16
}

// TestMgrNack is the sub-TLV an MRA sends when it observes a foreign
// RingTest with a worse (prio, sa) than its own.
type TestMgrNack struct {
	Prio      uint16
	SA        [6]byte
	OtherPrio uint16 // always 0 on the wire
	OtherSA   [6]byte
}

// TestPropagate is the sub-TLV an MRA sends when it steps down to MRC.
type TestPropagate struct {
	Prio      uint16
	SA        [6]byte
	OtherPrio uint16
	OtherSA   [6]byte
}

// Frame is a fully decoded MRP PDU: the zero-or-one body TLV relevant to
// the type that was on the wire, plus the mandatory Common trailer.
//
// Only one of the body fields is non-nil after Decode; Encode requires
// exactly one to be set.
type Frame struct {
	Type TLVType

	RingTest         *RingTest
	RingTopoChange   *RingTopoChange
	RingLinkUp       *RingLink
	RingLinkDown     *RingLink
	InTest           *InTest
	InTopoChange     *InTopoChange
	InLinkUp         *InLink
	InLinkDown       *InLink
	InLinkStatusPoll *InLinkStatusPoll
	TestMgrNack      *TestMgrNack
	TestPropagate    *TestPropagate

	Common Common
}
