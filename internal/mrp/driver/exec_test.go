package driver

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/stretchr/testify/require"
)

// "cat" stands in for a vendor CLI across these tests: it accepts
// anything on stdin, so NewExecDriver's init sequence and every
// subsequent write succeed without a real switch attached.

func TestNewExecDriverInstallsMulticastFDBEntries(t *testing.T) {
	d, err := NewExecDriver(DefaultExecCommands("cat"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer d.Close()
}

func TestNewExecDriverRequiresPath(t *testing.T) {
	_, err := NewExecDriver(ExecCommands{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestExecDriverSetPortStateMapsOrdinals(t *testing.T) {
	d, err := NewExecDriver(DefaultExecCommands("cat"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer d.Close()

	p := port.New(1, "eth0", net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, port.RolePrimary)
	require.NoError(t, d.SetPortState(p, port.StateForwarding))
	require.NoError(t, d.SetPortState(p, port.StateBlocked))
	require.NoError(t, d.SetPortState(p, port.StateDisabled))
}

func TestExecDriverFlushFDB(t *testing.T) {
	d, err := NewExecDriver(DefaultExecCommands("cat"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer d.Close()

	var domain [16]byte
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	in := instance.New(instance.Key{BridgeIfindex: 2, RingNr: 1}, mac, domain)
	in.P = port.New(10, "eth0", mac, port.RolePrimary)
	in.S = port.New(11, "eth1", mac, port.RoleSecondary)

	require.NoError(t, d.FlushFDB(in))
}

func TestExecDriverWriteAfterCloseFails(t *testing.T) {
	d, err := NewExecDriver(DefaultExecCommands("cat"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	require.Error(t, d.write("noop"))
}

func TestExecDriverRingAndInRoleAreLogOnly(t *testing.T) {
	d, err := NewExecDriver(DefaultExecCommands("cat"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer d.Close()

	var domain [16]byte
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	in := instance.New(instance.Key{BridgeIfindex: 2, RingNr: 1}, mac, domain)

	require.NoError(t, d.SetRingRole(in, instance.RingRoleMRM))
	require.NoError(t, d.SetInRole(in, instance.InRoleMIM))
}

func TestDefaultExecCommandsMatchesOriginalToolInvocations(t *testing.T) {
	cmds := DefaultExecCommands("cswtool")
	require.True(t, strings.Contains(cmds.SetPortState, "-setstpstatus"))
	require.True(t, strings.Contains(cmds.FlushPort, "-atuflushport"))
	require.True(t, strings.Contains(cmds.AddFDBEntry, "-atuadd"))
	require.True(t, strings.Contains(cmds.DelFDBEntry, "-atudel"))
}
