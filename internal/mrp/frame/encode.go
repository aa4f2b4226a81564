package frame

import "encoding/binary"

// builder is the zero-copy-style TLV writer Design Notes §9 calls for: it
// lays out bytes into a growable buffer and records each TLV's start
// offset so the one-byte length field can be back-filled once the value
// is fully written, mirroring mrp_fb_tlv/mrp_fb_sub_tlv in the original
// C daemon.
type builder struct {
	buf []byte
}

func newBuilder() *builder {
	b := &builder{buf: make([]byte, 0, MinFrameLen)}
	binary.BigEndian.PutUint16(b.grow(2), version)
	return b
}

// grow appends n zero bytes to buf and returns a slice over them.
func (b *builder) grow(n int) []byte {
	start := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	return b.buf[start : start+n]
}

func (b *builder) u8(v uint8)   { b.grow(1)[0] = v }
func (b *builder) u16(v uint16) { binary.BigEndian.PutUint16(b.grow(2), v) }
func (b *builder) u32(v uint32) { binary.BigEndian.PutUint32(b.grow(4), v) }
func (b *builder) raw(p []byte) { copy(b.grow(len(p)), p) }

// tlv opens a TLV: writes the type byte and a placeholder length byte,
// then calls fn to write the value, then backpatches the length.
func (b *builder) tlv(t TLVType, fn func()) {
	b.u8(uint8(t))
	lenOff := len(b.buf)
	b.u8(0)
	valueStart := len(b.buf)
	fn()
	b.buf[lenOff] = uint8(len(b.buf) - valueStart)
}

func (b *builder) subTLV(t SubTLVType, fn func()) {
	b.u8(uint8(t))
	lenOff := len(b.buf)
	b.u8(0)
	valueStart := len(b.buf)
	fn()
	b.buf[lenOff] = uint8(len(b.buf) - valueStart)
}

// finish appends the mandatory Common TLV and the End TLV, then pads the
// frame out to MinFrameLen.
func (b *builder) finish(c Common) []byte {
	b.tlv(TLVCommon, func() {
		b.u16(c.SeqID)
		b.raw(c.Domain[:])
	})
	b.tlv(TLVEnd, func() {})
	if len(b.buf) < MinFrameLen {
		b.buf = append(b.buf, make([]byte, MinFrameLen-len(b.buf))...)
	}
	return b.buf
}

// Encode serializes f, appending the mandatory Common TLV and End TLV and
// padding the result to MinFrameLen octets. One body field of f is
// encoded: the first non-nil one in the order the switch below checks.
// Encode panics when no body field is set, since that is a programmer error
// (a Frame is always constructed by this package's own state-machine
// callers, never from untrusted input).
func Encode(f *Frame) []byte {
	b := newBuilder()

	switch {
	case f.RingTest != nil:
		rt := f.RingTest
		b.tlv(TLVRingTest, func() {
			b.u16(rt.Prio)
			b.raw(rt.SA[:])
			b.u16(uint16(rt.PortRole))
			b.u16(uint16(rt.State))
			b.u16(rt.Transitions)
			b.u32(rt.Timestamp)
		})
	case f.RingTopoChange != nil:
		tc := f.RingTopoChange
		b.tlv(TLVRingTopo, func() {
			b.u16(tc.Prio)
			b.raw(tc.SA[:])
			b.u16(tc.Interval)
		})
	case f.RingLinkUp != nil:
		encodeRingLink(b, TLVRingLinkUp, f.RingLinkUp)
	case f.RingLinkDown != nil:
		encodeRingLink(b, TLVRingLinkDown, f.RingLinkDown)
	case f.InTest != nil:
		it := f.InTest
		b.tlv(TLVInTest, func() {
			b.raw(it.SA[:])
			b.u16(it.ID)
			b.u16(uint16(it.PortRole))
			b.u16(uint16(it.State))
			b.u16(it.Transitions)
			b.u32(it.Timestamp)
		})
	case f.InTopoChange != nil:
		tc := f.InTopoChange
		b.tlv(TLVInTopo, func() {
			b.raw(tc.SA[:])
			b.u16(tc.ID)
			b.u16(tc.Interval)
		})
	case f.InLinkUp != nil:
		encodeInLink(b, TLVInLinkUp, f.InLinkUp)
	case f.InLinkDown != nil:
		encodeInLink(b, TLVInLinkDown, f.InLinkDown)
	case f.InLinkStatusPoll != nil:
		p := f.InLinkStatusPoll
		b.tlv(TLVInLinkStatus, func() {
			b.raw(p.SA[:])
			b.u16(uint16(p.PortRole))
			b.u16(p.ID)
		})
	case f.TestMgrNack != nil:
		n := f.TestMgrNack
		b.tlv(TLVOption, func() {
			b.subTLV(SubTLVTestMgrNack, func() {
				b.u16(n.Prio)
				b.raw(n.SA[:])
				b.u16(0)
				b.raw(n.OtherSA[:])
				b.u16(0) // 2 bytes padding per spec §4.1
			})
		})
	case f.TestPropagate != nil:
		p := f.TestPropagate
		b.tlv(TLVOption, func() {
			b.subTLV(SubTLVTestPropagate, func() {
				b.u16(p.Prio)
				b.raw(p.SA[:])
				b.u16(p.OtherPrio)
				b.raw(p.OtherSA[:])
			})
		})
	default:
		panic("frame: Encode called with no body TLV set")
	}

	return b.finish(f.Common)
}

func encodeRingLink(b *builder, t TLVType, l *RingLink) {
	b.tlv(t, func() {
		b.raw(l.SA[:])
		b.u16(uint16(l.PortRole))
		b.u16(l.Interval)
		b.u16(l.Blocked)
	})
}

func encodeInLink(b *builder, t TLVType, l *InLink) {
	b.tlv(t, func() {
		b.raw(l.SA[:])
		b.u16(uint16(l.PortRole))
		b.u16(l.ID)
		b.u16(l.Interval)
	})
}
