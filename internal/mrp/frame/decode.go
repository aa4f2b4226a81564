package frame

import "encoding/binary"

// Decode parses a single MRP PDU payload (the bytes following the
// Ethernet header, i.e. starting at the 2-byte version field) into a
// Frame. It never panics: any malformed input yields one of
// ErrFrameTooShort, ErrBadVersion, or ErrTruncatedTLV. A syntactically
// valid TLV of a type this codec does not implement is skipped; an
// *UnknownTLVError is returned only when no recognized body TLV is found.
//
// Decode reads every TLV up to the End TLV (or the end of the input),
// matching the reference implementation's one-type-per-frame model: a
// received MRP frame carries exactly one "interesting" TLV plus the
// mandatory Common TLV.
func Decode(b []byte) (*Frame, error) {
	if len(b) < 4 {
		return nil, ErrFrameTooShort
	}
	if binary.BigEndian.Uint16(b[0:2]) != version {
		return nil, ErrBadVersion
	}
	b = b[2:]

	f := &Frame{}
	haveBody := false
	haveCommon := false

	for len(b) > 0 {
		if len(b) < 2 {
			return nil, ErrTruncatedTLV
		}
		t := TLVType(b[0])
		l := int(b[1])
		b = b[2:]
		if t == TLVEnd {
			break
		}
		if len(b) < l {
			return nil, ErrTruncatedTLV
		}
		val := b[:l]
		b = b[l:]

		switch t {
		case TLVCommon:
			c, err := decodeCommon(val)
			if err != nil {
				return nil, err
			}
			f.Common = *c
			haveCommon = true
		case TLVRingTest:
			v, err := decodeRingTest(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.RingTest, haveBody = t, v, true
		case TLVRingTopo:
			v, err := decodeRingTopoChange(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.RingTopoChange, haveBody = t, v, true
		case TLVRingLinkUp:
			v, err := decodeRingLink(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.RingLinkUp, haveBody = t, v, true
		case TLVRingLinkDown:
			v, err := decodeRingLink(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.RingLinkDown, haveBody = t, v, true
		case TLVInTest:
			v, err := decodeInTest(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.InTest, haveBody = t, v, true
		case TLVInTopo:
			v, err := decodeInTopoChange(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.InTopoChange, haveBody = t, v, true
		case TLVInLinkUp:
			v, err := decodeInLink(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.InLinkUp, haveBody = t, v, true
		case TLVInLinkDown:
			v, err := decodeInLink(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.InLinkDown, haveBody = t, v, true
		case TLVInLinkStatus:
			v, err := decodeInLinkStatusPoll(val)
			if err != nil {
				return nil, err
			}
			f.Type, f.InLinkStatusPoll, haveBody = t, v, true
		case TLVOption:
			if err := decodeOption(f, val); err != nil {
				return nil, err
			}
			f.Type = t
			haveBody = true
		default:
			// Not a type this codec implements: skip it and keep decoding.
			continue
		}
	}

	if !haveCommon {
		return nil, ErrTruncatedTLV
	}
	if !haveBody {
		return nil, &UnknownTLVError{Type: f.Type}
	}
	return f, nil
}

func decodeCommon(v []byte) (*Common, error) {
	if len(v) < 18 {
		return nil, ErrTruncatedTLV
	}
	c := &Common{SeqID: binary.BigEndian.Uint16(v[0:2])}
	copy(c.Domain[:], v[2:18])
	return c, nil
}

func decodeRingTest(v []byte) (*RingTest, error) {
	if len(v) < 18 {
		return nil, ErrTruncatedTLV
	}
	rt := &RingTest{
		Prio:        binary.BigEndian.Uint16(v[0:2]),
		PortRole:    PortRole(binary.BigEndian.Uint16(v[8:10])),
		State:       RingState(binary.BigEndian.Uint16(v[10:12])),
		Transitions: binary.BigEndian.Uint16(v[12:14]),
		Timestamp:   binary.BigEndian.Uint32(v[14:18]),
	}
	copy(rt.SA[:], v[2:8])
	return rt, nil
}

func decodeRingTopoChange(v []byte) (*RingTopoChange, error) {
	if len(v) < 10 {
		return nil, ErrTruncatedTLV
	}
	tc := &RingTopoChange{
		Prio:     binary.BigEndian.Uint16(v[0:2]),
		Interval: binary.BigEndian.Uint16(v[8:10]),
	}
	copy(tc.SA[:], v[2:8])
	return tc, nil
}

func decodeRingLink(v []byte) (*RingLink, error) {
	if len(v) < 12 {
		return nil, ErrTruncatedTLV
	}
	l := &RingLink{
		PortRole: PortRole(binary.BigEndian.Uint16(v[6:8])),
		Interval: binary.BigEndian.Uint16(v[8:10]),
		Blocked:  binary.BigEndian.Uint16(v[10:12]),
	}
	copy(l.SA[:], v[0:6])
	return l, nil
}

func decodeInTest(v []byte) (*InTest, error) {
	if len(v) < 18 {
		return nil, ErrTruncatedTLV
	}
	it := &InTest{
		ID:          binary.BigEndian.Uint16(v[6:8]),
		PortRole:    PortRole(binary.BigEndian.Uint16(v[8:10])),
		State:       RingState(binary.BigEndian.Uint16(v[10:12])),
		Transitions: binary.BigEndian.Uint16(v[12:14]),
		Timestamp:   binary.BigEndian.Uint32(v[14:18]),
	}
	copy(it.SA[:], v[0:6])
	return it, nil
}

func decodeInTopoChange(v []byte) (*InTopoChange, error) {
	if len(v) < 10 {
		return nil, ErrTruncatedTLV
	}
	tc := &InTopoChange{
		ID:       binary.BigEndian.Uint16(v[6:8]),
		Interval: binary.BigEndian.Uint16(v[8:10]),
	}
	copy(tc.SA[:], v[0:6])
	return tc, nil
}

func decodeInLink(v []byte) (*InLink, error) {
	if len(v) < 12 {
		return nil, ErrTruncatedTLV
	}
	l := &InLink{
		PortRole: PortRole(binary.BigEndian.Uint16(v[6:8])),
		ID:       binary.BigEndian.Uint16(v[8:10]),
		Interval: binary.BigEndian.Uint16(v[10:12]),
	}
	copy(l.SA[:], v[0:6])
	return l, nil
}

func decodeInLinkStatusPoll(v []byte) (*InLinkStatusPoll, error) {
	if len(v) < 10 {
		return nil, ErrTruncatedTLV
	}
	p := &InLinkStatusPoll{
		PortRole: PortRole(binary.BigEndian.Uint16(v[6:8])),
		ID:       binary.BigEndian.Uint16(v[8:10]),
	}
	copy(p.SA[:], v[0:6])
	return p, nil
}

// decodeOption parses an Option TLV's nested SubOption/SubTLV. The
// reference implementation's mrp_recv_option has no explicit length
// validation for the nested sub-TLV (Design Notes §9, Open Questions) —
// here a size mismatch is always a ErrTruncatedTLV, per that Open
// Question's resolution.
func decodeOption(f *Frame, v []byte) error {
	if len(v) < 2 {
		return ErrTruncatedTLV
	}
	subType := SubTLVType(v[0])
	subLen := int(v[1])
	v = v[2:]
	if len(v) < subLen {
		return ErrTruncatedTLV
	}
	v = v[:subLen]

	switch subType {
	case SubTLVTestMgrNack:
		if len(v) < 16 {
			return ErrTruncatedTLV
		}
		n := &TestMgrNack{
			Prio:      binary.BigEndian.Uint16(v[0:2]),
			OtherPrio: binary.BigEndian.Uint16(v[8:10]),
		}
		copy(n.SA[:], v[2:8])
		copy(n.OtherSA[:], v[10:16])
		f.TestMgrNack = n
		return nil
	case SubTLVTestPropagate:
		if len(v) < 16 {
			return ErrTruncatedTLV
		}
		p := &TestPropagate{
			Prio:      binary.BigEndian.Uint16(v[0:2]),
			OtherPrio: binary.BigEndian.Uint16(v[8:10]),
		}
		copy(p.SA[:], v[2:8])
		copy(p.OtherSA[:], v[10:16])
		f.TestPropagate = p
		return nil
	default:
		return &UnknownTLVError{Type: TLVOption}
	}
}
