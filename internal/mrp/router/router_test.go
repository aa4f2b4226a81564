package router

import (
	"net"
	"testing"

	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/stretchr/testify/require"
)

func testInstance() *instance.Instance {
	var domain [16]byte
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	in := instance.New(instance.Key{BridgeIfindex: 2, RingNr: 1}, mac, domain)
	in.P = port.New(10, "eth0", mac, port.RolePrimary)
	in.S = port.New(11, "eth1", mac, port.RoleSecondary)
	in.I = port.New(12, "eth2", mac, port.RoleInterconnect)
	return in
}

func TestShouldDropDisabledPort(t *testing.T) {
	in := testInstance()
	in.P.State = port.StateDisabled
	require.True(t, ShouldDrop(in.P, frame.TLVRingTest))
}

func TestShouldDropBlockedRingPortNonExempt(t *testing.T) {
	in := testInstance()
	in.P.State = port.StateBlocked
	require.True(t, ShouldDrop(in.P, frame.TLVOption+1))
}

func TestShouldDropBlockedRingPortExemptTypesPass(t *testing.T) {
	in := testInstance()
	in.P.State = port.StateBlocked
	for _, typ := range []frame.TLVType{frame.TLVRingTopo, frame.TLVRingTest, frame.TLVRingLinkUp, frame.TLVRingLinkDown, frame.TLVOption} {
		require.False(t, ShouldDrop(in.P, typ), "type %v should not drop", typ)
	}
}

func TestShouldDropBlockedInPortOnlyExemptTypesPass(t *testing.T) {
	in := testInstance()
	in.I.State = port.StateBlocked
	require.False(t, ShouldDrop(in.I, frame.TLVInTest))
	require.True(t, ShouldDrop(in.I, frame.TLVRingTest))
}

func TestShouldProcessRingTestRequiresMRMOrMRASupport(t *testing.T) {
	in := testInstance()
	in.RingRole = instance.RingRoleMRC
	require.False(t, ShouldProcess(in, frame.TLVRingTest))

	in.MRASupport = true
	require.True(t, ShouldProcess(in, frame.TLVRingTest))

	in.RingRole = instance.RingRoleMRM
	in.MRASupport = false
	require.True(t, ShouldProcess(in, frame.TLVRingTest))
}

func TestShouldProcessOptionFollowsMRAOrMIM(t *testing.T) {
	in := testInstance()
	require.False(t, ShouldProcess(in, frame.TLVOption))

	in.MRASupport = true
	require.True(t, ShouldProcess(in, frame.TLVOption))

	in.MRASupport = false
	in.InRole = instance.InRoleMIM
	require.True(t, ShouldProcess(in, frame.TLVOption))
}

func TestCheckAndForwardMRMDropsRingFrames(t *testing.T) {
	in := testInstance()
	in.RingRole = instance.RingRoleMRM
	out := CheckAndForward(in, in.P, frame.TLVRingTest, [6]byte{}, 0)
	require.Nil(t, out)
}

func TestCheckAndForwardMRCForwardsRingTestToOtherRingPortOnly(t *testing.T) {
	in := testInstance()
	in.RingRole = instance.RingRoleMRC
	out := CheckAndForward(in, in.P, frame.TLVRingTest, [6]byte{}, 0)
	require.ElementsMatch(t, []*port.Port{in.S}, out)
}

func TestCheckAndForwardRingFrameFromInterconnectNeverForwarded(t *testing.T) {
	in := testInstance()
	in.RingRole = instance.RingRoleMRC
	out := CheckAndForward(in, in.I, frame.TLVRingTopo, [6]byte{}, 0)
	require.Nil(t, out)
}

func TestCheckAndForwardMICForwardsInTestEverywhere(t *testing.T) {
	in := testInstance()
	in.InRole = instance.InRoleMIC
	out := CheckAndForward(in, in.P, frame.TLVInTest, [6]byte{0x01}, 9)
	require.ElementsMatch(t, []*port.Port{in.S, in.I}, out)
}

func TestCheckAndForwardMIMDropsOwnInTest(t *testing.T) {
	in := testInstance()
	in.InRole = instance.InRoleMIM
	own := macArray(in)
	out := CheckAndForward(in, in.P, frame.TLVInTest, own, 0)
	require.Nil(t, out)
}

func TestCheckAndForwardMIMForwardsForeignInTestBetweenRingPorts(t *testing.T) {
	in := testInstance()
	in.InRole = instance.InRoleMIM
	out := CheckAndForward(in, in.P, frame.TLVInTest, [6]byte{0xAA}, 0)
	require.ElementsMatch(t, []*port.Port{in.S}, out)
}

func TestCheckAndForwardMICLinkStatusFromRingPortGoesOnlyToInterconnect(t *testing.T) {
	in := testInstance()
	in.InRole = instance.InRoleMIC
	out := CheckAndForward(in, in.P, frame.TLVInLinkStatus, [6]byte{}, 0)
	require.ElementsMatch(t, []*port.Port{in.I}, out)
}
