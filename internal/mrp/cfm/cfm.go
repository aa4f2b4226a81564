// Package cfm models the interconnect-port peer-status feed an LC-mode
// instance relies on instead of its own kernel link state: in LC mode the
// interconnect port's reachability is decided by an external 802.1ag CCM
// session against the peer MEP, not by the local link carrier.
//
// Grounded on original_source/state_machine.c's mrp_cfm_link_change,
// which is invoked from the CFM netlink notification path
// (IFLA_BRIDGE_CFM_CC_PEER_STATUS_* attributes parsed in
// server_cmds.c's netlink_listen) with the owning instance's bridge
// ifindex, the peer's MEP id, and a defect flag. The full 802.1ag CCM
// stack that produces those notifications is out of scope (see spec
// Non-goals); only the narrow interface a consumer needs is modeled here,
// the same way the teacher's bgp package consumes routing state through
// the narrow RouteReaderWriter interface rather than owning a routing
// daemon itself.
package cfm

import "context"

// Event reports a CFM CCM peer-status change for one interconnect port,
// identified by the bridge it belongs to and the peer MEP id configured
// on the LC-mode instance (instance.CFMConfig.PeerMepID).
type Event struct {
	BridgeIfindex int
	PeerMepID     uint16
	Defect        bool
}

// Handler is invoked once per Event.
type Handler func(Event)

// Source streams CFM peer-status Events until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, handle Handler) error
}

// StaticSource is a fixture Source for environments with no live CCM
// session attached: it replays a fixed, pre-recorded sequence of events
// and then blocks until ctx is cancelled, so code wired against Source
// behaves identically whether or not real CFM offload is present.
type StaticSource struct {
	Events []Event
}

func (s *StaticSource) Run(ctx context.Context, handle Handler) error {
	for _, ev := range s.Events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handle(ev)
	}
	<-ctx.Done()
	return ctx.Err()
}

var _ Source = (*StaticSource)(nil)
