// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTotal counts dissected submessage records by frame class.
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strix_records_total",
			Help: "Total number of submessage records consumed",
		},
		[]string{"class"},
	)

	// BytesTotal counts attributed bytes by frame class.
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strix_bytes_total",
			Help: "Total attributed bytes consumed",
		},
		[]string{"class"},
	)

	// FramesSkippedTotal counts frames the dissection adapter dropped,
	// by skip reason.
	FramesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strix_frames_skipped_total",
			Help: "Total number of frames skipped during dissection",
		},
		[]string{"reason"},
	)

	// DiscoveryConflictsTotal counts rejected topic rebindings.
	DiscoveryConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strix_discovery_conflicts_total",
			Help: "Total number of conflicting discovery announcements",
		},
	)

	// RepairsTotal counts reclassified repair samples by repair kind.
	RepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strix_repairs_total",
			Help: "Total number of samples reclassified as repairs",
		},
		[]string{"kind"},
	)

	// PairsDroppedTotal counts edge-eligible pairs the topology builder
	// could not resolve, by drop reason.
	PairsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strix_pairs_dropped_total",
			Help: "Total number of edge-eligible pairs dropped from the graph",
		},
		[]string{"reason"},
	)

	// EdgesEmittedTotal counts topology edges emitted after the pass.
	EdgesEmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strix_edges_emitted_total",
			Help: "Total number of topology edges emitted",
		},
	)
)

// Repair kind label values.
const (
	RepairKindStandard = "standard"
	RepairKindDurable  = "durable"
)

// Skip reason label values.
const (
	SkipReasonMalformed      = "malformed"
	SkipReasonServiceRequest = "service_request"
	SkipReasonRouting        = "routing"
	SkipReasonNoDiscovery    = "no_discovery"
)
