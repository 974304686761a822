package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionCounter exposes live dialer sessions grouped by state.
type SessionCounter interface {
	CountByState() map[string]int
}

// ReconcilerStats exposes change-feed reconciliation outcomes.
type ReconcilerStats interface {
	Applied() uint64
	Dropped() uint64
}

// DispatcherStats exposes relay command counts grouped by outcome.
type DispatcherStats interface {
	CountByOutcome() map[string]uint64
}

// Collector is a prometheus.Collector that gathers dialer metrics at scrape
// time. Any provider may be nil if unavailable.
type Collector struct {
	sessions   SessionCounter
	reconciler ReconcilerStats
	dispatcher DispatcherStats
	startTime  time.Time

	sessionsDesc     *prometheus.Desc
	feedAppliedDesc  *prometheus.Desc
	feedDroppedDesc  *prometheus.Desc
	relayCommandDesc *prometheus.Desc
	uptimeDesc       *prometheus.Desc
}

func NewCollector(sessions SessionCounter, reconciler ReconcilerStats, dispatcher DispatcherStats) *Collector {
	return &Collector{
		sessions:   sessions,
		reconciler: reconciler,
		dispatcher: dispatcher,
		startTime:  time.Now(),

		sessionsDesc: prometheus.NewDesc(
			"dialpoint_sessions",
			"Dialer sessions by call state.",
			[]string{"state"}, nil,
		),
		feedAppliedDesc: prometheus.NewDesc(
			"dialpoint_feed_events_applied_total",
			"Change feed events applied to a session.",
			nil, nil,
		),
		feedDroppedDesc: prometheus.NewDesc(
			"dialpoint_feed_events_dropped_total",
			"Change feed events dropped (duplicate, stale, malformed or unroutable).",
			nil, nil,
		),
		relayCommandDesc: prometheus.NewDesc(
			"dialpoint_relay_commands_total",
			"Relay commands by outcome.",
			[]string{"outcome"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialpoint_uptime_seconds",
			"Seconds since process start.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.feedAppliedDesc
	ch <- c.feedDroppedDesc
	ch <- c.relayCommandDesc
	ch <- c.uptimeDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		for state, n := range c.sessions.CountByState() {
			ch <- prometheus.MustNewConstMetric(c.sessionsDesc, prometheus.GaugeValue, float64(n), state)
		}
	}
	if c.reconciler != nil {
		ch <- prometheus.MustNewConstMetric(c.feedAppliedDesc, prometheus.CounterValue, float64(c.reconciler.Applied()))
		ch <- prometheus.MustNewConstMetric(c.feedDroppedDesc, prometheus.CounterValue, float64(c.reconciler.Dropped()))
	}
	if c.dispatcher != nil {
		for outcome, n := range c.dispatcher.CountByOutcome() {
			ch <- prometheus.MustNewConstMetric(c.relayCommandDesc, prometheus.CounterValue, float64(n), outcome)
		}
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
