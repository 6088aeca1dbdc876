// Package turnmetrics re-backs the teacher's hand-rolled TURNClientMetrics
// counters (pkg/p2p/turn/turn_server.go) with real prometheus collectors.
package turnmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges one TurnSocket (or the Manager
// pooling several) reports.
type Metrics struct {
	AllocationsTotal   prometheus.Counter
	AllocationFailures prometheus.Counter
	RefreshesTotal     prometheus.Counter
	PermissionsActive  prometheus.Gauge
	ChannelsActive     prometheus.Gauge
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter
	PacketsDropped     prometheus.Counter
	RTTSeconds         prometheus.Histogram
}

// NewMetrics constructs and registers a Metrics set under reg, labeling
// every collector with the given client name so a Manager pooling several
// TurnSockets can tell them apart in one registry.
func NewMetrics(reg prometheus.Registerer, client string) *Metrics {
	constLabels := prometheus.Labels{"client": client}

	m := &Metrics{
		AllocationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "turnclient",
			Name:        "allocations_total",
			Help:        "Successful Allocate transactions completed.",
			ConstLabels: constLabels,
		}),
		AllocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "turnclient",
			Name:        "allocation_failures_total",
			Help:        "Allocate transactions that ended in a non-2xx final response.",
			ConstLabels: constLabels,
		}),
		RefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "turnclient",
			Name:        "refreshes_total",
			Help:        "Refresh transactions completed.",
			ConstLabels: constLabels,
		}),
		PermissionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "turnclient",
			Name:        "permissions_active",
			Help:        "Currently installed peer permissions.",
			ConstLabels: constLabels,
		}),
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "turnclient",
			Name:        "channels_active",
			Help:        "Currently bound channel numbers.",
			ConstLabels: constLabels,
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "turnclient",
			Name:        "bytes_sent_total",
			Help:        "Application bytes sent via Send indications or ChannelData.",
			ConstLabels: constLabels,
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "turnclient",
			Name:        "bytes_received_total",
			Help:        "Application bytes received via Data indications or ChannelData.",
			ConstLabels: constLabels,
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "turnclient",
			Name:        "packets_dropped_total",
			Help:        "Frames dropped for an unknown channel number or a malformed STUN message.",
			ConstLabels: constLabels,
		}),
		RTTSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "turnclient",
			Name:        "transaction_rtt_seconds",
			Help:        "Observed round-trip time of completed STUN transactions.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.AllocationsTotal, m.AllocationFailures, m.RefreshesTotal,
			m.PermissionsActive, m.ChannelsActive,
			m.BytesSent, m.BytesReceived, m.PacketsDropped, m.RTTSeconds,
		)
	}
	return m
}
