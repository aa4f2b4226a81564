package transport

import (
	"net"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/stretchr/testify/require"
)

func TestHtons(t *testing.T) {
	require.Equal(t, uint16(0xE388), htons(0x88E3))
}

func samplePayload(t *testing.T) []byte {
	t.Helper()
	f := &frame.Frame{
		Common: frame.Common{SeqID: 1},
		RingTest: &frame.RingTest{
			Prio: 0x8000,
			SA:   [6]byte{0x02, 0, 0, 0, 0, 1},
		},
	}
	return frame.Encode(f)
}

func TestBuildEthernetFramePadsToMinLen(t *testing.T) {
	dst := net.HardwareAddr(frame.DstTest[:])
	src, _ := net.ParseMAC("02:00:00:00:00:01")

	out, err := buildEthernetFrame(dst, src, samplePayload(t))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out), frame.MinFrameLen)
	require.Equal(t, dst, net.HardwareAddr(out[0:6]))
	require.Equal(t, src, net.HardwareAddr(out[6:12]))
}

func TestParseIncomingRoundTrips(t *testing.T) {
	dst := net.HardwareAddr(frame.DstTest[:])
	src, _ := net.ParseMAC("02:00:00:00:00:01")
	payload := samplePayload(t)

	raw, err := buildEthernetFrame(dst, src, payload)
	require.NoError(t, err)

	f, ok := parseIncoming(raw)
	require.True(t, ok)
	require.NotNil(t, f.RingTest)
	require.EqualValues(t, 0x8000, f.RingTest.Prio)
}

func TestParseIncomingRejectsOtherEthertype(t *testing.T) {
	eth := make([]byte, 14)
	copy(eth[0:6], []byte{1, 2, 3, 4, 5, 6})
	copy(eth[6:12], []byte{6, 5, 4, 3, 2, 1})
	eth[12], eth[13] = 0x08, 0x00 // IPv4, not MRP

	_, ok := parseIncoming(eth)
	require.False(t, ok)
}

func TestParseIncomingRejectsTooShort(t *testing.T) {
	_, ok := parseIncoming([]byte{0x01, 0x02})
	require.False(t, ok)
}

func TestRawTransportImplementsInstanceTransport(t *testing.T) {
	var _ instance.Transport = (*RawTransport)(nil)
}

func TestMRPEthernetTypeRegistered(t *testing.T) {
	_, ok := layers.EthernetTypeMetadata[layers.EthernetType(frame.EtherType)]
	require.True(t, ok)
}
