// Package metrics exposes the daemon's Prometheus counters and gauges,
// grounded on the teacher's per-package promauto var-block convention
// (client/doublezerod/internal/bgp/metrics.go, internal/manager/metrics.go):
// one file, package-level vars registered via promauto at init time,
// name-prefixed with the daemon's own name rather than the teacher's.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InstancesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mrpd_instances_active",
		Help: "Number of MRP instances currently configured",
	})

	RingRoleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_ring_role_transitions_total",
		Help: "Total MRM/MRC ring-protocol state-machine transitions",
	}, []string{"ring", "from", "to"})

	InRoleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_in_role_transitions_total",
		Help: "Total MIM/MIC interconnect-protocol state-machine transitions",
	}, []string{"ring", "from", "to"})

	RingTestFramesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_ring_test_frames_sent_total",
		Help: "Total MRP_Test frames transmitted by an MRM/MRA instance",
	}, []string{"ring"})

	RingTestFramesMissedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_ring_test_frames_missed_total",
		Help: "Total consecutive MRP_Test polling windows an MRM saw no test frame return",
	}, []string{"ring"})

	InTestFramesMissedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_in_test_frames_missed_total",
		Help: "Total consecutive MRP_InTest polling windows a MIM saw no test frame return",
	}, []string{"ring"})

	TopologyChangeFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_topology_change_frames_total",
		Help: "Total MRP_TopologyChange/MRP_InTopologyChange frames sent",
	}, []string{"ring", "class"})

	FDBFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_fdb_flushes_total",
		Help: "Total FDB flushes issued to the bridge driver",
	}, []string{"ring"})

	LinkChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_port_link_changes_total",
		Help: "Total port operstate transitions observed",
	}, []string{"port", "state"})

	ControlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_control_requests_total",
		Help: "Total control-socket requests handled, by command and result",
	}, []string{"cmd", "result"})

	FrameDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrpd_frame_drops_total",
		Help: "Total received MRP frames dropped before reaching a state machine",
	}, []string{"reason"})
)
