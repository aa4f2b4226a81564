// Package ctlproto implements the wire codec for the control-plane
// protocol carried over ctlserver's unixgram socket: a fixed
// {cmd,lin,lout,res} header followed by a fixed-size per-command payload.
//
// Grounded on original_source/utils.h's struct ctl_msg_hdr and the
// addmrp_IN/delmrp_IN/getmrp_OUT/mrp_status structs it declares, and on
// mrp.c's client_send_message (the sendmsg/recvmsg framing a client uses
// against the control socket). The original reads/writes these as raw C
// structs via memcpy, which bakes in the host's struct-padding rules;
// this codec instead lays every field out explicitly, field-by-field,
// big-endian, matching the teacher-derived convention internal/mrp/frame
// already uses for its own wire codec — both ends of this protocol are
// this same module, so there is no external struct layout to match.
package ctlproto

import (
	"encoding/binary"
	"fmt"
)

// Command codes, grounded on utils.h's CMD_CODE_addmrp/delmrp/getmrp.
const (
	CmdAddMRP int32 = 101
	CmdDelMRP int32 = 102
	CmdGetMRP int32 = 103
)

// MaxInstances mirrors utils.h's MAX_MRP_INSTANCES, the fixed capacity of
// a GetMRPResponse.
const MaxInstances = 20

// Header mirrors struct ctl_msg_hdr: every request and response on the
// control socket starts with one of these.
type Header struct {
	Cmd  int32
	Lin  int32
	Lout int32
	Res  int32
}

// HeaderLen is Header's encoded size.
const HeaderLen = 16

func EncodeHeader(h Header) []byte {
	b := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(b[0:4], uint32(h.Cmd))
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Lin))
	binary.BigEndian.PutUint32(b[8:12], uint32(h.Lout))
	binary.BigEndian.PutUint32(b[12:16], uint32(h.Res))
	return b
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("ctlproto: header too short: %d bytes", len(b))
	}
	return Header{
		Cmd:  int32(binary.BigEndian.Uint32(b[0:4])),
		Lin:  int32(binary.BigEndian.Uint32(b[4:8])),
		Lout: int32(binary.BigEndian.Uint32(b[8:12])),
		Res:  int32(binary.BigEndian.Uint32(b[12:16])),
	}, nil
}

// AddMRPRequest mirrors struct addmrp_IN: every field cmd_addmrp on the
// CLI side accepts, carried as a fixed-size request body.
type AddMRPRequest struct {
	Bridge            int32
	RingNr            int32
	PPort             int32
	SPort             int32
	RingRole          int32
	Prio              uint16
	RingRecv          uint8
	ReactOnLinkChange uint8
	InRole            int32
	InID              uint16
	IPort             int32
	InMode            int32
	InRecv            uint8
	CFMInstance       int32
	CFMLevel          int32
	CFMMepID          int32
	CFMPeerMepID      int32
	CFMMaid           [12]byte
	CFMDmac           [6]byte
}

// AddMRPRequestLen is AddMRPRequest's encoded size: twelve int32 fields,
// two uint16 fields, three uint8 fields, and the 12+6 byte CFM MAID/MAC.
const AddMRPRequestLen = 12*4 + 2*2 + 3*1 + 12 + 6

func EncodeAddMRPRequest(r AddMRPRequest) []byte {
	b := make([]byte, 0, 64)
	put32 := func(v int32) { b = appendUint32(b, uint32(v)) }
	put16 := func(v uint16) { b = appendUint16(b, v) }
	put8 := func(v uint8) { b = append(b, v) }

	put32(r.Bridge)
	put32(r.RingNr)
	put32(r.PPort)
	put32(r.SPort)
	put32(r.RingRole)
	put16(r.Prio)
	put8(r.RingRecv)
	put8(r.ReactOnLinkChange)
	put32(r.InRole)
	put16(r.InID)
	put32(r.IPort)
	put32(r.InMode)
	put8(r.InRecv)
	put32(r.CFMInstance)
	put32(r.CFMLevel)
	put32(r.CFMMepID)
	put32(r.CFMPeerMepID)
	b = append(b, r.CFMMaid[:]...)
	b = append(b, r.CFMDmac[:]...)
	return b
}

func DecodeAddMRPRequest(b []byte) (AddMRPRequest, error) {
	var r AddMRPRequest
	d := &decoder{b: b}
	r.Bridge = d.int32()
	r.RingNr = d.int32()
	r.PPort = d.int32()
	r.SPort = d.int32()
	r.RingRole = d.int32()
	r.Prio = d.uint16()
	r.RingRecv = d.uint8()
	r.ReactOnLinkChange = d.uint8()
	r.InRole = d.int32()
	r.InID = d.uint16()
	r.IPort = d.int32()
	r.InMode = d.int32()
	r.InRecv = d.uint8()
	r.CFMInstance = d.int32()
	r.CFMLevel = d.int32()
	r.CFMMepID = d.int32()
	r.CFMPeerMepID = d.int32()
	copy(r.CFMMaid[:], d.raw(12))
	copy(r.CFMDmac[:], d.raw(6))
	if d.err != nil {
		return AddMRPRequest{}, d.err
	}
	return r, nil
}

// DelMRPRequest mirrors struct delmrp_IN.
type DelMRPRequest struct {
	Bridge int32
	RingNr int32
}

func EncodeDelMRPRequest(r DelMRPRequest) []byte {
	var b []byte
	b = appendUint32(b, uint32(r.Bridge))
	b = appendUint32(b, uint32(r.RingNr))
	return b
}

func DecodeDelMRPRequest(b []byte) (DelMRPRequest, error) {
	d := &decoder{b: b}
	r := DelMRPRequest{Bridge: d.int32(), RingNr: d.int32()}
	if d.err != nil {
		return DelMRPRequest{}, d.err
	}
	return r, nil
}

// InstanceStatus mirrors struct mrp_status, one entry of a GetMRPResponse.
type InstanceStatus struct {
	Bridge            int32
	RingNr            int32
	PPort             int32
	SPort             int32
	MRASupport        int32
	RingRole          int32
	RingState         int32
	Prio              int32
	RingRecv          int32
	ReactOnLinkChange int32
	InRole            int32
	InState           int32
	IPort             int32
	InID              int32
	InMode            int32
	InRecv            int32
}

func (s InstanceStatus) encode() []byte {
	var b []byte
	for _, v := range []int32{
		s.Bridge, s.RingNr, s.PPort, s.SPort, s.MRASupport, s.RingRole,
		s.RingState, s.Prio, s.RingRecv, s.ReactOnLinkChange, s.InRole,
		s.InState, s.IPort, s.InID, s.InMode, s.InRecv,
	} {
		b = appendUint32(b, uint32(v))
	}
	return b
}

// InstanceStatusLen is InstanceStatus's encoded size.
const InstanceStatusLen = 16 * 4

func decodeInstanceStatus(d *decoder) InstanceStatus {
	return InstanceStatus{
		Bridge: d.int32(), RingNr: d.int32(), PPort: d.int32(), SPort: d.int32(),
		MRASupport: d.int32(), RingRole: d.int32(), RingState: d.int32(), Prio: d.int32(),
		RingRecv: d.int32(), ReactOnLinkChange: d.int32(), InRole: d.int32(), InState: d.int32(),
		IPort: d.int32(), InID: d.int32(), InMode: d.int32(), InRecv: d.int32(),
	}
}

// GetMRPResponse mirrors struct getmrp_OUT: a count plus a fixed-capacity
// array of MaxInstances status records, matching the original's flat
// memcpy-the-whole-array reply.
type GetMRPResponse struct {
	Count  int32
	Status [MaxInstances]InstanceStatus
}

// GetMRPResponseLen is GetMRPResponse's encoded size.
const GetMRPResponseLen = 4 + MaxInstances*InstanceStatusLen

func EncodeGetMRPResponse(r GetMRPResponse) []byte {
	b := appendUint32(nil, uint32(r.Count))
	for _, s := range r.Status {
		b = append(b, s.encode()...)
	}
	return b
}

func DecodeGetMRPResponse(b []byte) (GetMRPResponse, error) {
	d := &decoder{b: b}
	var r GetMRPResponse
	r.Count = d.int32()
	for i := range r.Status {
		r.Status[i] = decodeInstanceStatus(d)
	}
	if d.err != nil {
		return GetMRPResponse{}, d.err
	}
	return r, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

// decoder reads fixed-width fields off b in sequence, latching the first
// short-read error so callers can check it once at the end instead of
// after every field.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if len(d.b) < n {
		d.err = fmt.Errorf("ctlproto: truncated payload: need %d, have %d", n, len(d.b))
		return make([]byte, n)
	}
	v := d.b[:n]
	d.b = d.b[n:]
	return v
}

func (d *decoder) int32() int32   { return int32(binary.BigEndian.Uint32(d.take(4))) }
func (d *decoder) uint16() uint16 { return binary.BigEndian.Uint16(d.take(2)) }
func (d *decoder) uint8() uint8   { return d.take(1)[0] }
func (d *decoder) raw(n int) []byte {
	return d.take(n)
}
