// Package port models one ring or interconnect port attached to an MRP
// instance: its kernel identity, its MRP role, and the forwarding state
// the bridge driver has been told to install.
//
// Grounded on the small-struct-plus-String()-enum convention the teacher
// uses for netlink.Tunnel/netlink.Route, scaled down to what an MRP port
// needs to track.
package port

import (
	"fmt"
	"net"
)

// Role identifies which of an instance's ring/interconnect roles a port
// plays.
type Role uint8

const (
	RolePrimary Role = iota
	RoleSecondary
	RoleInterconnect
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	case RoleInterconnect:
		return "interconnect"
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

// ForwardingState is the STP-like state the bridge driver has been told
// to install for a port. NotConnected mirrors the original daemon
// treating a port with no link as distinct from an administratively
// Blocked one.
type ForwardingState uint8

const (
	StateDisabled ForwardingState = iota
	StateBlocked
	StateForwarding
	StateNotConnected
)

func (s ForwardingState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateBlocked:
		return "blocked"
	case StateForwarding:
		return "forwarding"
	case StateNotConnected:
		return "not_connected"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// OperState mirrors the kernel's IF_OPER_* values enough for MRP's
// purposes: whether a port's underlying link is usable at all.
type OperState uint8

const (
	OperUnknown OperState = iota
	OperDown
	OperUp
)

func (s OperState) String() string {
	switch s {
	case OperDown:
		return "down"
	case OperUp:
		return "up"
	}
	return "unknown"
}

// Port is one of an Instance's up-to-three ring/interconnect ports.
type Port struct {
	Ifindex int
	Name    string
	MAC     net.HardwareAddr

	Role  Role
	State ForwardingState
	Oper  OperState

	// LinkChangeCount counts link transitions observed since the port was
	// attached to the instance.
	LinkChangeCount uint32
}

// New constructs a Port in its initial Blocked state with an unknown
// operstate, matching
// the original mrp_add()'s port initialization before the first operstate
// notification arrives.
func New(ifindex int, name string, mac net.HardwareAddr, role Role) *Port {
	return &Port{
		Ifindex: ifindex,
		Name:    name,
		MAC:     mac,
		Role:    role,
		State:   StateBlocked,
		Oper:    OperUnknown,
	}
}

// SetOper updates the port's observed operstate and returns whether this
// constitutes a link-state transition (used to drive LinkChangeCount and
// to decide whether a handler must run at all).
func (p *Port) SetOper(o OperState) (changed bool) {
	if p.Oper == o {
		return false
	}
	p.Oper = o
	p.LinkChangeCount++
	return true
}

// Up reports whether the port's link is currently usable.
func (p *Port) Up() bool { return p.Oper == OperUp }
