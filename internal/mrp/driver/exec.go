package driver

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"sync"

	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/mrperr"
	"github.com/ringmrp/mrpd/internal/mrp/port"
)

// ExecCommands names the external tool and its per-operation argument
// templates an ExecDriver shells out to, generalizing the hardcoded
// cswtool invocations of ifdriver_kbact.c into a configurable set so the
// same driver can target any vendor CLI that accepts commands on stdin.
// Each template's %s/%d verbs are filled with exec.go's own arguments, in
// the order documented on each field.
type ExecCommands struct {
	// Path to the external tool. Required.
	Path string

	// SetPortState receives (ifname string, kernelState int).
	SetPortState string
	// FlushPort receives (ifname string).
	FlushPort string
	// AddFDBEntry receives (mac string).
	AddFDBEntry string
	// DelFDBEntry receives (mac string).
	DelFDBEntry string
}

// DefaultExecCommands mirrors the cswtool command set ifdriver_kbact.c
// hardcodes.
func DefaultExecCommands(path string) ExecCommands {
	return ExecCommands{
		Path:         path,
		SetPortState: "-setstpstatus %s %d",
		FlushPort:    "-atuflushport %s",
		AddFDBEntry:  "-atuadd cpu %s 1 6 1",
		DelFDBEntry:  "-atudel cpu %s",
	}
}

// ExecDriver drives an external switch-configuration CLI over a
// persistent stdin pipe, one line per command, grounded on
// ifdriver_kbact.c's exec_cmd/popen("cswtool I", "w") pattern. Unlike
// NetlinkDriver it cannot report ring/in role to the external tool (the
// original never does either — kbact_set_ring_role and
// kbact_set_in_role only log) and SetRingRole/SetInRole are no-ops
// beyond logging, matching that.
type ExecDriver struct {
	cmds ExecCommands
	log  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

// NewExecDriver starts cmds.Path as a persistent subprocess and installs
// the four MRP multicast destination MACs into its FDB as CPU-destined
// entries, grounded on kbact_init.
func NewExecDriver(cmds ExecCommands, log *slog.Logger) (*ExecDriver, error) {
	if cmds.Path == "" {
		return nil, mrperr.Invalid("driver.NewExecDriver", fmt.Errorf("no command path configured"))
	}

	cmd := exec.Command(cmds.Path, "I")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, mrperr.Transport("driver.NewExecDriver", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, mrperr.Transport("driver.NewExecDriver", err)
	}

	drv := &ExecDriver{cmds: cmds, log: log, cmd: cmd, stdin: stdin}

	for _, mac := range []net.HardwareAddr{
		net.HardwareAddr(frame.DstTest[:]),
		net.HardwareAddr(frame.DstControl[:]),
		net.HardwareAddr(frame.DstInTest[:]),
		net.HardwareAddr(frame.DstInControl[:]),
	} {
		if err := drv.write(cmds.AddFDBEntry, mac.String()); err != nil {
			return nil, err
		}
	}
	return drv, nil
}

func (d *ExecDriver) write(format string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return mrperr.Invalid("driver.ExecDriver", fmt.Errorf("driver closed"))
	}
	line := fmt.Sprintf(format, args...) + "\n"
	d.log.Debug("exec driver command", "cmd", line)
	if _, err := io.WriteString(d.stdin, line); err != nil {
		return mrperr.Transport("driver.ExecDriver", err)
	}
	return nil
}

// SetPortState runs SetPortState's template with the BR_MRP_PORT_STATE
// ordinal ifdriver_kbact.c's switch statement maps each state to: 0 for
// disabled, 1 for blocked, 3 for forwarding (2 is skipped — it belonged
// to an STP state kbact never uses).
func (d *ExecDriver) SetPortState(p *port.Port, state port.ForwardingState) error {
	var s int
	switch state {
	case port.StateDisabled:
		s = 0
	case port.StateBlocked:
		s = 1
	case port.StateForwarding:
		s = 3
	case port.StateNotConnected:
		s = 1
	}
	return d.write(d.cmds.SetPortState, p.Name, s)
}

// SetRingRole only logs, matching kbact_set_ring_role: the external tool
// has no concept of MRP ring role, only per-port STP status.
func (d *ExecDriver) SetRingRole(inst *instance.Instance, role instance.RingRole) error {
	d.log.Debug("ring role", "instance", inst.Key, "role", role)
	return nil
}

// SetInRole only logs, matching kbact_set_in_role.
func (d *ExecDriver) SetInRole(inst *instance.Instance, role instance.InRole) error {
	d.log.Debug("in role", "instance", inst.Key, "role", role)
	return nil
}

// FlushFDB flushes every port attached to inst, grounded on kbact_flush.
func (d *ExecDriver) FlushFDB(inst *instance.Instance) error {
	for _, p := range inst.Ports() {
		if err := d.write(d.cmds.FlushPort, p.Name); err != nil {
			return err
		}
	}
	return nil
}

// Close removes the MRP multicast FDB entries and terminates the
// subprocess, grounded on kbact_uninit.
func (d *ExecDriver) Close() error {
	for _, mac := range []net.HardwareAddr{
		net.HardwareAddr(frame.DstTest[:]),
		net.HardwareAddr(frame.DstControl[:]),
		net.HardwareAddr(frame.DstInTest[:]),
		net.HardwareAddr(frame.DstInControl[:]),
	} {
		_ = d.write(d.cmds.DelFDBEntry, mac.String())
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if err := d.stdin.Close(); err != nil {
		return mrperr.Transport("driver.ExecDriver.Close", err)
	}
	return d.cmd.Wait()
}

var _ instance.Driver = (*ExecDriver)(nil)
