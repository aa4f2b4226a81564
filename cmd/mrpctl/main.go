// Command mrpctl is the CLI client for mrpd: it adds, removes, and lists
// MRP ring instances over the daemon's control socket.
//
// Grounded on original_source/mrp.c's cmd_addmrp/cmd_delmrp/cmd_getmrp
// argument handling and help() text, rebuilt as spf13/cobra subcommands
// the way the teacher's own CLI entrypoints are structured, talking to
// the daemon through internal/mrp/ctlclient instead of a hand-rolled
// sendmsg/recvmsg pair.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/ringmrp/mrpd/internal/mrp/ctlclient"
	"github.com/ringmrp/mrpd/internal/mrp/ctlproto"
	"github.com/ringmrp/mrpd/internal/mrp/ctlserver"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
)

var sockAddr string

func main() {
	root := &cobra.Command{
		Use:           "mrpctl",
		Short:         "Configure and inspect MRP ring instances on a running mrpd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&sockAddr, "sock", ctlserver.DefaultSockAddr, "mrpd control socket address")

	root.AddCommand(newAddMRPCmd(), newDelMRPCmd(), newGetMRPCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mrpctl: %v\n", err)
		os.Exit(1)
	}
}

func dial() (*ctlclient.Client, error) {
	c, err := ctlclient.Dial(sockAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to mrpd at %s: %w", sockAddr, err)
	}
	return c, nil
}

func ifindex(name string) (int32, error) {
	if name == "" {
		return 0, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("interface %s: %w", name, err)
	}
	return int32(ifi.Index), nil
}

func ringRoleOrdinal(s string) (int32, error) {
	switch s {
	case "disabled":
		return int32(instance.RingRoleDisabled), nil
	case "mrc":
		return int32(instance.RingRoleMRC), nil
	case "mrm":
		return int32(instance.RingRoleMRM), nil
	case "mra":
		return int32(instance.RingRoleMRA), nil
	}
	return 0, fmt.Errorf("unknown ring_role %q (want disabled, mrc, mrm, mra)", s)
}

func inRoleOrdinal(s string) (int32, error) {
	switch s {
	case "disabled":
		return int32(instance.InRoleDisabled), nil
	case "mim":
		return int32(instance.InRoleMIM), nil
	case "mic":
		return int32(instance.InRoleMIC), nil
	}
	return 0, fmt.Errorf("unknown in_role %q (want disabled, mim, mic)", s)
}

func inModeOrdinal(s string) (int32, error) {
	switch s {
	case "rc":
		return int32(instance.InModeRC), nil
	case "lc":
		return int32(instance.InModeLC), nil
	}
	return 0, fmt.Errorf("unknown in_mode %q (want rc, lc)", s)
}

func ringRecvOrdinal(s string) (uint8, error) {
	switch s {
	case "500":
		return 0, nil
	case "200":
		return 1, nil
	case "30":
		return 2, nil
	case "10":
		return 3, nil
	}
	return 0, fmt.Errorf("unknown ring_recv %q (want 500, 200, 30, 10)", s)
}

func inRecvOrdinal(s string) (uint8, error) {
	switch s {
	case "500":
		return 0, nil
	case "200":
		return 1, nil
	}
	return 0, fmt.Errorf("unknown in_recv %q (want 500, 200)", s)
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	if s == "" {
		return mac, nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return mac, fmt.Errorf("invalid MAC %q", s)
	}
	copy(mac[:], hw)
	return mac, nil
}

func parseMAID(s string) ([12]byte, error) {
	var maid [12]byte
	if s == "" {
		return maid, nil
	}
	b := []byte(s)
	if len(b) > len(maid) {
		return maid, fmt.Errorf("cfm_maid longer than 12 bytes")
	}
	copy(maid[:], b)
	return maid, nil
}

func newAddMRPCmd() *cobra.Command {
	var (
		bridge, pport, sport, iport       string
		ringNr                            int
		ringRole, ringRecv                string
		prio                               uint16
		reactOnLinkChange                  bool
		inRole, inMode, inRecv             string
		inID                               uint16
		cfmInstance, cfmLevel              int32
		cfmMepID, cfmPeerMepID             int32
		cfmMaid, cfmDmac                   string
	)

	cmd := &cobra.Command{
		Use:   "add-mrp",
		Short: "Create an MRP instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			br, err := ifindex(bridge)
			if err != nil {
				return err
			}
			pp, err := ifindex(pport)
			if err != nil {
				return err
			}
			sp, err := ifindex(sport)
			if err != nil {
				return err
			}
			role, err := ringRoleOrdinal(ringRole)
			if err != nil {
				return err
			}
			recv, err := ringRecvOrdinal(ringRecv)
			if err != nil {
				return err
			}

			req := ctlproto.AddMRPRequest{
				Bridge:            br,
				RingNr:            int32(ringNr),
				PPort:             pp,
				SPort:             sp,
				RingRole:          role,
				Prio:              prio,
				RingRecv:          recv,
				ReactOnLinkChange: boolToU8(reactOnLinkChange),
				InID:              inID,
			}

			if inRole != "" && inRole != "disabled" {
				ir, err := inRoleOrdinal(inRole)
				if err != nil {
					return err
				}
				ip, err := ifindex(iport)
				if err != nil {
					return err
				}
				im, err := inModeOrdinal(valueOr(inMode, "rc"))
				if err != nil {
					return err
				}
				inr, err := inRecvOrdinal(valueOr(inRecv, "500"))
				if err != nil {
					return err
				}
				req.InRole = ir
				req.IPort = ip
				req.InMode = im
				req.InRecv = inr
			}

			req.CFMInstance = cfmInstance
			req.CFMLevel = cfmLevel
			req.CFMMepID = cfmMepID
			req.CFMPeerMepID = cfmPeerMepID
			req.CFMMaid, err = parseMAID(cfmMaid)
			if err != nil {
				return err
			}
			req.CFMDmac, err = parseMAC(cfmDmac)
			if err != nil {
				return err
			}

			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.AddMRP(req)
		},
	}

	f := cmd.Flags()
	f.StringVar(&bridge, "bridge", "", "bridge interface name (required)")
	f.IntVar(&ringNr, "ring-nr", 0, "MRP instance ring number (required)")
	f.StringVar(&pport, "pport", "", "primary ring port name (required)")
	f.StringVar(&sport, "sport", "", "secondary ring port name (required)")
	f.StringVar(&ringRole, "ring-role", "", "ring role: disabled, mrc, mrm, mra (required)")
	f.Uint16Var(&prio, "prio", instance.DefaultPriority, "instance priority")
	f.StringVar(&ringRecv, "ring-recv", "500", "ring recovery time: 500, 200, 30, 10")
	f.BoolVar(&reactOnLinkChange, "react-on-link-change", true, "react immediately to ring port link-state changes")
	f.StringVar(&inRole, "in-role", "disabled", "interconnect role: disabled, mim, mic")
	f.StringVar(&iport, "iport", "", "interconnect port name")
	f.Uint16Var(&inID, "in-id", 0, "interconnect ring id")
	f.StringVar(&inMode, "in-mode", "rc", "interconnect mode: rc, lc")
	f.StringVar(&inRecv, "in-recv", "500", "interconnect recovery time: 500, 200")
	f.Int32Var(&cfmInstance, "cfm-instance", 0, "CFM instance id")
	f.Int32Var(&cfmLevel, "cfm-level", 0, "CFM level")
	f.Int32Var(&cfmMepID, "cfm-mepid", 0, "CFM local MEP id")
	f.Int32Var(&cfmPeerMepID, "cfm-peer-mepid", 0, "CFM peer MEP id")
	f.StringVar(&cfmMaid, "cfm-maid", "", "CFM MAID (up to 12 bytes)")
	f.StringVar(&cfmDmac, "cfm-dmac", "", "CFM destination MAC")

	_ = cmd.MarkFlagRequired("bridge")
	_ = cmd.MarkFlagRequired("ring-nr")
	_ = cmd.MarkFlagRequired("pport")
	_ = cmd.MarkFlagRequired("sport")
	_ = cmd.MarkFlagRequired("ring-role")

	return cmd
}

func newDelMRPCmd() *cobra.Command {
	var bridge string
	var ringNr int

	cmd := &cobra.Command{
		Use:   "del-mrp",
		Short: "Delete an MRP instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			br, err := ifindex(bridge)
			if err != nil {
				return err
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.DelMRP(ctlproto.DelMRPRequest{Bridge: br, RingNr: int32(ringNr)})
		},
	}
	cmd.Flags().StringVar(&bridge, "bridge", "", "bridge interface name (required)")
	cmd.Flags().IntVar(&ringNr, "ring-nr", 0, "MRP instance ring number (required)")
	_ = cmd.MarkFlagRequired("bridge")
	_ = cmd.MarkFlagRequired("ring-nr")
	return cmd
}

func newGetMRPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-mrp",
		Short: "Show configured MRP instances",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.GetMRP()
			if err != nil {
				return err
			}
			printGetMRPResponse(resp)
			return nil
		},
	}
}

func printGetMRPResponse(resp ctlproto.GetMRPResponse) {
	for i := 0; i < int(resp.Count) && i < len(resp.Status); i++ {
		s := resp.Status[i]
		fmt.Printf("bridge: %s ring_nr: %d pport: %s sport: %s mra_support: %d ring_role: %s prio: %d ring_recv: %s\n",
			ifname(s.Bridge), s.RingNr, ifname(s.PPort), ifname(s.SPort), s.MRASupport,
			instance.RingRole(s.RingRole), s.Prio, ringRecvString(s.RingRecv))
		fmt.Printf("  react_on_link_change: %d ring_state: %d\n", s.ReactOnLinkChange, s.RingState)
		if instance.InRole(s.InRole) == instance.InRoleDisabled {
			continue
		}
		fmt.Printf("  iport: %s in_id: %d in_role: %s in_recv: %s in_mode: %s in_state: %d\n",
			ifname(s.IPort), s.InID, instance.InRole(s.InRole), inRecvString(s.InRecv), instance.InMode(s.InMode), s.InState)
	}
}

func ifname(idx int32) string {
	ifi, err := net.InterfaceByIndex(int(idx))
	if err != nil {
		return fmt.Sprintf("if%d", idx)
	}
	return ifi.Name
}

func ringRecvString(v int32) string {
	switch v {
	case 0:
		return "500ms"
	case 1:
		return "200ms"
	case 2:
		return "30ms"
	case 3:
		return "10ms"
	}
	return "unknown"
}

func inRecvString(v int32) string {
	switch v {
	case 0:
		return "500ms"
	case 1:
		return "200ms"
	}
	return "unknown"
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
