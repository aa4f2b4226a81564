// Package instance implements the MRP data model: the per-instance state
// spec.md §3 describes (ring/interconnect role, the four state-machine
// variables, recovery-class constants, runtime counters, timer handles)
// plus the process-wide Registry that creates, finds, and destroys
// instances under their own locks.
//
// Grounded on the small-struct-plus-functional-Option constructor idiom
// the teacher uses throughout (manager.NetlinkManager's Option type), and
// on the keyed-registry-with-one-mutex-per-entity pattern implied by
// manager.NetlinkManager's ownership of Routes/Rules/Tunnels, scaled to
// MRP's (bridge, ring) keying instead of a single global manager.
package instance

import (
	"fmt"
	"net"
	"sync"

	"github.com/ringmrp/mrpd/internal/mrp/port"
	"github.com/ringmrp/mrpd/internal/mrp/sched"
)

// RingRole is an instance's role on its primary ring.
type RingRole uint8

const (
	RingRoleDisabled RingRole = iota
	RingRoleMRC
	RingRoleMRM
	RingRoleMRA
)

func (r RingRole) String() string {
	switch r {
	case RingRoleDisabled:
		return "disabled"
	case RingRoleMRC:
		return "mrc"
	case RingRoleMRM:
		return "mrm"
	case RingRoleMRA:
		return "mra"
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

// InRole is an instance's role on its interconnect ring, if any.
type InRole uint8

const (
	InRoleDisabled InRole = iota
	InRoleMIM
	InRoleMIC
)

func (r InRole) String() string {
	switch r {
	case InRoleDisabled:
		return "disabled"
	case InRoleMIM:
		return "mim"
	case InRoleMIC:
		return "mic"
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

// InMode selects how an interconnect port's status is determined: from
// the ring protocol itself (RC) or from an external CFM CCM session (LC).
type InMode uint8

const (
	InModeRC InMode = iota
	InModeLC
)

func (m InMode) String() string {
	if m == InModeLC {
		return "lc"
	}
	return "rc"
}

// MRMState is one of the four MRM/MRA states (spec.md §4.3).
type MRMState uint8

const (
	MRMStateACStat1 MRMState = iota
	MRMStatePrmUp
	MRMStateChkRO
	MRMStateChkRC
)

func (s MRMState) String() string {
	switch s {
	case MRMStateACStat1:
		return "AC_STAT1"
	case MRMStatePrmUp:
		return "PRM_UP"
	case MRMStateChkRO:
		return "CHK_RO"
	case MRMStateChkRC:
		return "CHK_RC"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MRCState is one of the five MRC states (spec.md §4.4).
type MRCState uint8

const (
	MRCStateACStat1 MRCState = iota
	MRCStateDEIdle
	MRCStatePT
	MRCStateDE
	MRCStatePTIdle
)

func (s MRCState) String() string {
	switch s {
	case MRCStateACStat1:
		return "AC_STAT1"
	case MRCStateDEIdle:
		return "DE_IDLE"
	case MRCStatePT:
		return "PT"
	case MRCStateDE:
		return "DE"
	case MRCStatePTIdle:
		return "PT_IDLE"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MIMState is one of the three MIM states (original utils.h, spec.md §4.6).
type MIMState uint8

const (
	MIMStateACStat1 MIMState = iota
	MIMStateChkIO
	MIMStateChkIC
)

func (s MIMState) String() string {
	switch s {
	case MIMStateACStat1:
		return "AC_STAT1"
	case MIMStateChkIO:
		return "CHK_IO"
	case MIMStateChkIC:
		return "CHK_IC"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MICState is one of the three MIC states (original utils.h, spec.md §4.6).
type MICState uint8

const (
	MICStateACStat1 MICState = iota
	MICStatePT
	MICStateIPIdle
)

func (s MICState) String() string {
	switch s {
	case MICStateACStat1:
		return "AC_STAT1"
	case MICStatePT:
		return "PT"
	case MICStateIPIdle:
		return "IP_IDLE"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// DefaultPriority and MRADefaultPriority are the two priority defaults
// spec.md §3 names (lower value wins manager election).
const (
	DefaultPriority    uint16 = 0x8000
	MRADefaultPriority uint16 = 0xA000
)

// Key identifies an instance: at most one instance exists per
// (bridge_ifindex, ring_nr), invariant (1) in spec.md §3.
type Key struct {
	BridgeIfindex int
	RingNr        uint16
}

func (k Key) String() string {
	return fmt.Sprintf("br%d/ring%d", k.BridgeIfindex, k.RingNr)
}

// CFMConfig is carried per-instance when InMode is LC (supplemental data
// model, SPEC_FULL.md §3, from the original mrp_add() signature).
type CFMConfig struct {
	CFMInstance   uint8
	CFMLevel      uint8
	MepID         uint16
	PeerMepID     uint16
	MAID          [12]byte
	DMAC          net.HardwareAddr
}

// Neighbor is the best foreign RingTest (prio, sa) an MRA has observed,
// used to decide whether to step down to MRC (spec.md §4.5).
type Neighbor struct {
	Prio uint16
	MAC  net.HardwareAddr
}

// MACArray returns the neighbor's MAC as a fixed-size array, for
// comparison against a frame field of the same shape.
func (n Neighbor) MACArray() (a [6]byte) {
	copy(a[:], n.MAC)
	return a
}

// Instance is one MRP ring (plus optional interconnect) instance. All
// fields are protected by mu except Key, which is immutable after
// creation; callers outside this package must call Lock/Unlock before
// touching any other field.
type Instance struct {
	mu sync.Mutex

	Key Key

	P, S, I *port.Port // primary, secondary, interconnect

	RingRole   RingRole
	InRole     InRole
	InMode     InMode
	MRASupport bool

	Priority  uint16
	Domain    [16]byte
	BridgeMAC net.HardwareAddr

	MRMState MRMState
	MRCState MRCState
	MIMState MIMState
	MICState MICState

	SeqID uint16

	RingTransitions uint32
	InTransitions   uint32

	RingClass sched.RingClass
	InClass   sched.InClass

	// Countdown counters, mirroring the original daemon's *_curr/*_curr_max
	// pairs: *Curr counts consecutive misses toward *CurrMax; the
	// *CurrMax-only fields count down bursts-remaining for a repeating
	// announcement (topology-change, link-up/down, link-status-poll).
	RingTestCurr    int
	RingTestCurrMax int
	RingMonCurr     int
	RingMonCurrMax  int
	RingLinkCurrMax int
	RingTopoCurrMax int

	InTestCurr      int
	InTestCurrMax   int
	InLinkCurrMax   int
	InTopoCurrMax   int
	InLinkStatusMax int

	InID uint16 // interconnect ring/network identifier carried in In* frames

	BestNeighbor Neighbor

	AddTest           bool
	NoTC              bool
	Blocked           bool
	ReactOnLinkChange bool
	RingTopoRunning   bool

	CFM *CFMConfig
}

// New constructs an Instance in its initial AC_STAT1/Disabled state, per
// spec.md §3's Lifecycle note ("Instances are created by an add request").
func New(key Key, bridgeMAC net.HardwareAddr, domain [16]byte) *Instance {
	return &Instance{
		Key:       key,
		RingRole:  RingRoleDisabled,
		InRole:    InRoleDisabled,
		InMode:    InModeRC,
		Priority:  DefaultPriority,
		Domain:    domain,
		BridgeMAC: bridgeMAC,
		RingClass: sched.RingClass500,
		InClass:   sched.InClass500,
	}
}

// Lock and Unlock guard every mutable field. The event router and the
// scheduler's fired-timer handler acquire this lock for the duration of
// one handler invocation, per §5.
func (in *Instance) Lock()   { in.mu.Lock() }
func (in *Instance) Unlock() { in.mu.Unlock() }

// NextSeqID increments and returns the instance's PDU sequence id.
// Invariant (6): increments by one per outbound MRP PDU regardless of
// type. Callers must hold the instance lock.
func (in *Instance) NextSeqID() uint16 {
	in.SeqID++
	return in.SeqID
}

// Ports returns the up-to-three ports attached to the instance, skipping
// any that are nil (an instance with no interconnect role has no I port).
func (in *Instance) Ports() []*port.Port {
	ps := make([]*port.Port, 0, 3)
	for _, p := range []*port.Port{in.P, in.S, in.I} {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ps
}

// PortByIfindex returns the port with the given ifindex, or nil.
func (in *Instance) PortByIfindex(ifindex int) *port.Port {
	for _, p := range in.Ports() {
		if p.Ifindex == ifindex {
			return p
		}
	}
	return nil
}

// ResetMRMInit clears the per-round MRM bookkeeping fields, mirroring the
// original mrp_set_mrm_init(): called whenever an instance (re)takes on
// the MRM role so stale counters from a previous role don't leak in.
func (in *Instance) ResetMRMInit() {
	in.AddTest = false
	in.NoTC = false
	in.RingTestCurr = 0
}

// ResetMRCInit clears the per-round MRC bookkeeping fields, mirroring the
// original mrp_set_mrc_init().
func (in *Instance) ResetMRCInit() {
	in.RingLinkCurrMax = 0
	in.RingMonCurr = 0
}

// SwapPrimarySecondary exchanges the roles of P and S, invariant (3): on
// primary-port link-down the core swaps roles so P is always the
// currently-up side. Callers must hold the instance lock.
func (in *Instance) SwapPrimarySecondary() {
	if in.P == nil || in.S == nil {
		return
	}
	in.P, in.S = in.S, in.P
	in.P.Role, in.S.Role = port.RolePrimary, port.RoleSecondary
}
