package ctlproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrips(t *testing.T) {
	h := Header{Cmd: CmdAddMRP, Lin: 73, Lout: 0, Res: 0}
	got, err := DecodeHeader(EncodeHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderRejectsShortInput(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestAddMRPRequestRoundTrips(t *testing.T) {
	r := AddMRPRequest{
		Bridge: 2, RingNr: 1, PPort: 3, SPort: 4, RingRole: 2,
		Prio: 0x8000, RingRecv: 0, ReactOnLinkChange: 1,
		InRole: 1, InID: 7, IPort: 5, InMode: 1, InRecv: 0,
		CFMInstance: 1, CFMLevel: 3, CFMMepID: 10, CFMPeerMepID: 20,
		CFMMaid: [12]byte{1, 2, 0, 4},
		CFMDmac: [6]byte{0x01, 0x80, 0xc2, 0, 0, 0x30},
	}
	enc := EncodeAddMRPRequest(r)
	require.Len(t, enc, AddMRPRequestLen)

	got, err := DecodeAddMRPRequest(enc)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestDecodeAddMRPRequestRejectsTruncated(t *testing.T) {
	_, err := DecodeAddMRPRequest(make([]byte, AddMRPRequestLen-1))
	require.Error(t, err)
}

func TestDelMRPRequestRoundTrips(t *testing.T) {
	r := DelMRPRequest{Bridge: 2, RingNr: 1}
	got, err := DecodeDelMRPRequest(EncodeDelMRPRequest(r))
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestGetMRPResponseRoundTrips(t *testing.T) {
	var r GetMRPResponse
	r.Count = 2
	r.Status[0] = InstanceStatus{Bridge: 2, RingNr: 1, RingRole: 2, Prio: 0x8000}
	r.Status[1] = InstanceStatus{Bridge: 2, RingNr: 2, RingRole: 1}

	enc := EncodeGetMRPResponse(r)
	require.Len(t, enc, GetMRPResponseLen)

	got, err := DecodeGetMRPResponse(enc)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestDecodeGetMRPResponseRejectsTruncated(t *testing.T) {
	_, err := DecodeGetMRPResponse(make([]byte, GetMRPResponseLen-1))
	require.Error(t, err)
}
