package instance

import (
	"net"

	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/ringmrp/mrpd/internal/mrp/sched"
)

// Transport is the packet transport the MRP core consumes (spec.md §6):
// send an Ethernet frame out a given ifindex. Implemented by
// internal/mrp/transport.RawTransport.
type Transport interface {
	Send(ifindex int, dst, src net.HardwareAddr, payload []byte) error
}

// Driver is the bridge driver the MRP core consumes (spec.md §6):
// install a port's forwarding state, the instance's ring/interconnect
// role, and flush learned FDB entries. Implemented by
// internal/mrp/driver.NetlinkDriver and internal/mrp/driver.ExecDriver.
type Driver interface {
	SetPortState(p *port.Port, state port.ForwardingState) error
	SetRingRole(inst *Instance, role RingRole) error
	SetInRole(inst *Instance, role InRole) error
	FlushFDB(inst *Instance) error
}

// SetPortState is a small convenience wrapper: it updates both the
// driver-visible state and the in-memory Port struct together, so state
// machine code never forgets one or the other.
func SetPortState(drv Driver, p *port.Port, state port.ForwardingState) error {
	if err := drv.SetPortState(p, state); err != nil {
		return err
	}
	p.State = state
	return nil
}

// Env bundles the collaborators every state-machine package (mrm, mrc,
// mim, router) needs: somewhere to send frames, somewhere to install
// forwarding/FDB changes, and the shared timer scheduler. Passing one Env
// around keeps those packages' function signatures from growing a new
// parameter every time a handler needs one more collaborator.
type Env struct {
	Transport Transport
	Driver    Driver
	Sched     *sched.Scheduler
}

// Emit stamps common fields (sequence id, domain) onto f and sends it
// out p via dst. Invariant (6): the sequence id increments by one per
// outbound MRP PDU regardless of type — centralizing that increment here
// is what makes the invariant hold without every caller remembering it.
func Emit(tr Transport, inst *Instance, p *port.Port, dst [6]byte, f *frame.Frame) error {
	f.Common = frame.Common{SeqID: inst.NextSeqID(), Domain: inst.Domain}
	payload := frame.Encode(f)
	return tr.Send(p.Ifindex, net.HardwareAddr(dst[:]), p.MAC, payload)
}
