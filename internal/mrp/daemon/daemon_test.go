package daemon

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ringmrp/mrpd/internal/mrp/cfm"
	"github.com/ringmrp/mrpd/internal/mrp/ctlproto"
	"github.com/ringmrp/mrpd/internal/mrp/eventbus"
	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/linkevent"
	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/ringmrp/mrpd/internal/mrp/sched"
)

type fakeTransport struct {
	sent []sentFrame
}

type sentFrame struct {
	ifindex  int
	dst, src net.HardwareAddr
	payload  []byte
}

func (f *fakeTransport) Send(ifindex int, dst, src net.HardwareAddr, payload []byte) error {
	f.sent = append(f.sent, sentFrame{ifindex, dst, src, payload})
	return nil
}

type fakeDriver struct {
	states    map[int]port.ForwardingState
	ringRoles map[instance.Key]instance.RingRole
	inRoles   map[instance.Key]instance.InRole
	flushes   int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		states:    make(map[int]port.ForwardingState),
		ringRoles: make(map[instance.Key]instance.RingRole),
		inRoles:   make(map[instance.Key]instance.InRole),
	}
}

func (d *fakeDriver) SetPortState(p *port.Port, state port.ForwardingState) error {
	d.states[p.Ifindex] = state
	return nil
}
func (d *fakeDriver) SetRingRole(inst *instance.Instance, role instance.RingRole) error {
	d.ringRoles[inst.Key] = role
	return nil
}
func (d *fakeDriver) SetInRole(inst *instance.Instance, role instance.InRole) error {
	d.inRoles[inst.Key] = role
	return nil
}
func (d *fakeDriver) FlushFDB(inst *instance.Instance) error { d.flushes++; return nil }

type fakeResolver struct {
	byIfindex map[int]struct {
		name string
		mac  net.HardwareAddr
	}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byIfindex: make(map[int]struct {
		name string
		mac  net.HardwareAddr
	})}
}

func (r *fakeResolver) add(ifindex int, name string, mac net.HardwareAddr) {
	r.byIfindex[ifindex] = struct {
		name string
		mac  net.HardwareAddr
	}{name, mac}
}

func (r *fakeResolver) InterfaceByIndex(ifindex int) (string, net.HardwareAddr, error) {
	v, ok := r.byIfindex[ifindex]
	if !ok {
		return "", nil, &net.OpError{Op: "route", Err: net.UnknownNetworkError("no such interface")}
	}
	return v.name, v.mac, nil
}

func mac(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func testDaemon() (*Daemon, *instance.Registry, *fakeDriver, *fakeTransport, *fakeResolver) {
	drv := newFakeDriver()
	tr := &fakeTransport{}
	s := sched.New(slog.New(slog.NewTextHandler(io.Discard, nil)), func(owner any, kind sched.Kind) {})
	reg := instance.NewRegistry(s)
	env := instance.Env{Transport: tr, Driver: drv, Sched: s}
	res := newFakeResolver()
	res.add(1, "br0", mac("02:00:00:00:00:01"))
	res.add(10, "eth0", mac("02:00:00:00:00:02"))
	res.add(11, "eth1", mac("02:00:00:00:00:03"))
	res.add(12, "eth2", mac("02:00:00:00:00:04"))
	d := New(reg, env, eventbus.Noop{}, res, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return d, reg, drv, tr, res
}

func TestAddMRPCreatesMRMInstance(t *testing.T) {
	d, reg, drv, _, _ := testDaemon()

	err := d.AddMRP(ctlproto.AddMRPRequest{
		Bridge:   1,
		RingNr:   7,
		PPort:    10,
		SPort:    11,
		RingRole: int32(instance.RingRoleMRM),
		Prio:     0x7000,
		RingRecv: 1,
	})
	require.NoError(t, err)

	inst, ok := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 7})
	require.True(t, ok)
	require.Equal(t, instance.RingRoleMRM, inst.RingRole)
	require.Equal(t, uint16(0x7000), inst.Priority)
	require.Equal(t, sched.RingClass200, inst.RingClass)
	require.Equal(t, instance.RingRoleMRM, drv.ringRoles[inst.Key])
}

func TestAddMRPRejectsDuplicateKey(t *testing.T) {
	d, _, _, _, _ := testDaemon()
	req := ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}

	require.NoError(t, d.AddMRP(req))
	err := d.AddMRP(req)
	require.Error(t, err)
	var exists *instance.ErrExists
	require.ErrorAs(t, err, &exists)
}

func TestAddMRPMRASetsMRASupport(t *testing.T) {
	d, reg, _, _, _ := testDaemon()
	req := ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRA)}
	require.NoError(t, d.AddMRP(req))

	inst, _ := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})
	require.Equal(t, instance.RingRoleMRM, inst.RingRole)
	require.True(t, inst.MRASupport)
}

func TestAddMRPWithInterconnect(t *testing.T) {
	d, reg, drv, _, _ := testDaemon()
	req := ctlproto.AddMRPRequest{
		Bridge:   1,
		RingNr:   1,
		PPort:    10,
		SPort:    11,
		RingRole: int32(instance.RingRoleMRC),
		InRole:   int32(instance.InRoleMIM),
		IPort:    12,
		InID:     9,
		InMode:   int32(instance.InModeLC),
		InRecv:   1,
	}
	require.NoError(t, d.AddMRP(req))

	inst, _ := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})
	require.Equal(t, instance.InRoleMIM, inst.InRole)
	require.Equal(t, instance.InModeLC, inst.InMode)
	require.Equal(t, uint16(9), inst.InID)
	require.Equal(t, sched.InClass200, inst.InClass)
	require.Equal(t, instance.InRoleMIM, drv.inRoles[inst.Key])
}

func TestDelMRPRemovesInstance(t *testing.T) {
	d, reg, _, _, _ := testDaemon()
	req := ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}
	require.NoError(t, d.AddMRP(req))

	require.NoError(t, d.DelMRP(ctlproto.DelMRPRequest{Bridge: 1, RingNr: 1}))
	_, ok := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})
	require.False(t, ok)
}

func TestDelMRPUnknownKeyErrors(t *testing.T) {
	d, _, _, _, _ := testDaemon()
	err := d.DelMRP(ctlproto.DelMRPRequest{Bridge: 99, RingNr: 1})
	require.Error(t, err)
}

func TestGetMRPReportsAddedInstances(t *testing.T) {
	d, _, _, _, _ := testDaemon()
	require.NoError(t, d.AddMRP(ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}))
	require.NoError(t, d.AddMRP(ctlproto.AddMRPRequest{Bridge: 1, RingNr: 2, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRM)}))

	resp := d.GetMRP()
	require.EqualValues(t, 2, resp.Count)
	require.EqualValues(t, 1, resp.Status[0].RingNr)
	require.EqualValues(t, 2, resp.Status[1].RingNr)
}

func TestHandleLinkEventDispatchesMRCPortLinkChange(t *testing.T) {
	d, reg, drv, _, _ := testDaemon()
	require.NoError(t, d.AddMRP(ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}))
	inst, _ := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})
	inst.MRCState = instance.MRCStateACStat1

	d.HandleLinkEvent(linkevent.Event{Ifindex: 10, HasOperState: true, OperUp: true})

	require.Equal(t, instance.MRCStateDEIdle, inst.MRCState)
	require.Equal(t, port.StateForwarding, drv.states[10])
}

func TestHandleLinkEventIgnoresUnknownIfindex(t *testing.T) {
	d, _, _, _, _ := testDaemon()
	require.NoError(t, d.AddMRP(ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}))

	require.NotPanics(t, func() {
		d.HandleLinkEvent(linkevent.Event{Ifindex: 999, HasOperState: true, OperUp: true})
	})
}

func TestHandleFrameForwardsRingTestAcrossPorts(t *testing.T) {
	d, reg, _, tr, _ := testDaemon()
	require.NoError(t, d.AddMRP(ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}))
	inst, _ := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})
	inst.P.State = port.StateForwarding
	inst.S.State = port.StateForwarding

	f := &frame.Frame{
		Type: frame.TLVRingTest,
		RingTest: &frame.RingTest{
			Prio: 0x9000,
			SA:   [6]byte{0xaa, 1, 2, 3, 4, 5},
		},
	}
	d.HandleFrame(10, f)

	require.Len(t, tr.sent, 1)
	require.Equal(t, 11, tr.sent[0].ifindex)
}

func TestHandleFrameDropsOnDisabledPort(t *testing.T) {
	d, reg, _, tr, _ := testDaemon()
	require.NoError(t, d.AddMRP(ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}))
	inst, _ := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})
	inst.P.State = port.StateDisabled

	f := &frame.Frame{Type: frame.TLVRingTest, RingTest: &frame.RingTest{}}
	d.HandleFrame(10, f)

	require.Empty(t, tr.sent)
}

func TestTimerFiredDispatchesClearFDB(t *testing.T) {
	d, reg, drv, _, _ := testDaemon()
	require.NoError(t, d.AddMRP(ctlproto.AddMRPRequest{Bridge: 1, RingNr: 1, PPort: 10, SPort: 11, RingRole: int32(instance.RingRoleMRC)}))
	inst, _ := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})

	d.TimerFired(inst, sched.ClearFDB)

	require.Equal(t, 1, drv.flushes)
}

func TestTimerFiredIgnoresUnknownOwnerType(t *testing.T) {
	d, _, _, _, _ := testDaemon()
	require.NotPanics(t, func() {
		d.TimerFired("not an instance", sched.ClearFDB)
	})
}

func TestHandleCFMEventDrivesMIMLinkChange(t *testing.T) {
	d, reg, drv, _, _ := testDaemon()
	req := ctlproto.AddMRPRequest{
		Bridge: 1, RingNr: 1, PPort: 10, SPort: 11,
		RingRole: int32(instance.RingRoleMRC),
		InRole:   int32(instance.InRoleMIM),
		IPort:    12,
		InMode:   int32(instance.InModeLC),
	}
	require.NoError(t, d.AddMRP(req))
	inst, _ := reg.Find(instance.Key{BridgeIfindex: 1, RingNr: 1})
	inst.CFM = &instance.CFMConfig{PeerMepID: 42}
	inst.MIMState = instance.MIMStateACStat1

	d.HandleCFMEvent(cfm.Event{BridgeIfindex: 1, PeerMepID: 42, Defect: false})

	require.Equal(t, instance.MIMStateChkIC, inst.MIMState)
	require.Equal(t, port.StateBlocked, drv.states[12])
}
