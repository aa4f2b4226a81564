package mrc

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/ringmrp/mrpd/internal/mrp/sched"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent int
}

func (f *fakeTransport) Send(ifindex int, dst, src net.HardwareAddr, payload []byte) error {
	f.sent++
	return nil
}

type fakeDriver struct {
	states map[int]port.ForwardingState
	flushes int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{states: make(map[int]port.ForwardingState)}
}

func (d *fakeDriver) SetPortState(p *port.Port, state port.ForwardingState) error {
	d.states[p.Ifindex] = state
	return nil
}

func (d *fakeDriver) SetRingRole(inst *instance.Instance, role instance.RingRole) error { return nil }
func (d *fakeDriver) SetInRole(inst *instance.Instance, role instance.InRole) error     { return nil }
func (d *fakeDriver) FlushFDB(inst *instance.Instance) error                            { d.flushes++; return nil }

func testEnv() (instance.Env, *fakeTransport, *fakeDriver) {
	tr := &fakeTransport{}
	drv := newFakeDriver()
	s := sched.New(slog.New(slog.NewTextHandler(io.Discard, nil)), func(owner any, kind sched.Kind) {})
	return instance.Env{Transport: tr, Driver: drv, Sched: s}, tr, drv
}

func testInstance() *instance.Instance {
	var domain [16]byte
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	in := instance.New(instance.Key{BridgeIfindex: 2, RingNr: 1}, mac, domain)
	in.RingRole = instance.RingRoleMRC
	in.P = port.New(10, "eth0", mac, port.RolePrimary)
	in.S = port.New(11, "eth1", mac, port.RoleSecondary)
	in.P.State = port.StateBlocked
	in.S.State = port.StateBlocked
	return in
}

func TestPortLinkChangeACStat1ToDEIdle(t *testing.T) {
	env, _, drv := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStateACStat1

	PortLinkChange(env, in, in.P, true)

	require.Equal(t, instance.MRCStateDEIdle, in.MRCState)
	require.Equal(t, port.StateForwarding, drv.states[in.P.Ifindex])
}

func TestPortLinkChangeACStat1SecondaryUpSwaps(t *testing.T) {
	env, _, drv := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStateACStat1
	origP := in.P

	PortLinkChange(env, in, in.S, true)

	require.Equal(t, instance.MRCStateDEIdle, in.MRCState)
	require.Same(t, origP, in.S, "primary/secondary swapped")
	require.Equal(t, port.StateForwarding, drv.states[in.P.Ifindex])
}

func TestPortLinkChangeDEIdleToPTOnSecondaryUp(t *testing.T) {
	env, tr, _ := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStateDEIdle

	PortLinkChange(env, in, in.S, true)

	require.Equal(t, instance.MRCStatePT, in.MRCState)
	require.Greater(t, tr.sent, 0, "RingLinkUp frame sent")
}

func TestPortLinkChangeDEIdleToACStat1OnPrimaryDown(t *testing.T) {
	env, _, drv := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStateDEIdle

	PortLinkChange(env, in, in.P, false)

	require.Equal(t, instance.MRCStateACStat1, in.MRCState)
	require.Equal(t, port.StateBlocked, drv.states[in.P.Ifindex])
}

func TestPortLinkChangePTSecondaryDownGoesToDE(t *testing.T) {
	env, tr, drv := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStatePT

	PortLinkChange(env, in, in.S, false)

	require.Equal(t, instance.MRCStateDE, in.MRCState)
	require.Equal(t, port.StateBlocked, drv.states[in.S.Ifindex])
	require.Greater(t, tr.sent, 0, "RingLinkDown frame sent")
}

func TestReceiveRingTopoPTGoesToPTIdleAndForwardsSecondary(t *testing.T) {
	env, _, drv := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStatePT

	ReceiveRingTopo(env, in, &frame.RingTopoChange{Interval: 0})

	require.Equal(t, instance.MRCStatePTIdle, in.MRCState)
	require.Equal(t, port.StateForwarding, drv.states[in.S.Ifindex])
	require.Equal(t, 1, drv.flushes, "zero interval flushes immediately")
}

func TestReceiveRingTopoDEGoesToDEIdle(t *testing.T) {
	env, _, _ := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStateDE

	ReceiveRingTopo(env, in, &frame.RingTopoChange{Interval: 500})

	require.Equal(t, instance.MRCStateDEIdle, in.MRCState)
}

func TestRingLinkUpTimerExpiredCountsDownThenSettles(t *testing.T) {
	env, tr, drv := testEnv()
	in := testInstance()
	in.MRCState = instance.MRCStatePT
	in.RingLinkCurrMax = 1

	RingLinkUpTimerExpired(env, in)
	require.Equal(t, instance.MRCStatePT, in.MRCState, "still counting down")
	require.Greater(t, tr.sent, 0)

	RingLinkUpTimerExpired(env, in)
	require.Equal(t, instance.MRCStatePTIdle, in.MRCState)
	require.Equal(t, port.StateForwarding, drv.states[in.S.Ifindex])
}

func TestRingTestTimerExpiredPromotesToMRMWhenSilent(t *testing.T) {
	env, _, _ := testEnv()
	in := testInstance()
	in.RingRole = instance.RingRoleMRA
	in.MRCState = instance.MRCStateDEIdle
	in.RingMonCurr = 10
	in.RingMonCurrMax = 5

	RingTestTimerExpired(env, in)

	require.Equal(t, instance.RingRoleMRM, in.RingRole)
	require.Equal(t, instance.MRMStatePrmUp, in.MRMState)
}

func TestRingTestTimerExpiredKeepsWaitingWhileWithinBudget(t *testing.T) {
	env, _, _ := testEnv()
	in := testInstance()
	in.RingRole = instance.RingRoleMRA
	in.MRCState = instance.MRCStateDEIdle
	in.RingMonCurr = 0
	in.RingMonCurrMax = 5

	RingTestTimerExpired(env, in)

	require.Equal(t, instance.RingRoleMRA, in.RingRole)
	require.Equal(t, 1, in.RingMonCurr)
}
