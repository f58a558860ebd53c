package procexit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector implements prometheus.Collector for a Monitor: decoder
// counters plus the kernel session statistics while it runs.
type StatsCollector struct {
	monitor *Monitor

	exitsDecodedDesc    *prometheus.Desc
	recordsReceivedDesc *prometheus.Desc
	recordsRejectedDesc *prometheus.Desc
	unknownVersionDesc  *prometheus.Desc
	consumerErrorsDesc  *prometheus.Desc
	subscriberPanicDesc *prometheus.Desc
	rtLostDesc          *prometheus.Desc

	sessionBuffersInUseDesc  *prometheus.Desc
	sessionBuffersFreeDesc   *prometheus.Desc
	sessionEventsLostDesc    *prometheus.Desc
	sessionRTBuffersLostDesc *prometheus.Desc
}

// NewStatsCollector creates a collector for m.
func NewStatsCollector(m *Monitor) *StatsCollector {
	session := prometheus.Labels{"session": m.cfg.Session.Name}
	return &StatsCollector{
		monitor: m,

		exitsDecodedDesc: prometheus.NewDesc(
			"procexit_exits_decoded_total",
			"Total number of process exits decoded and published.",
			nil, nil,
		),
		recordsReceivedDesc: prometheus.NewDesc(
			"procexit_records_received_total",
			"Total number of event records delivered by the trace consumer.",
			nil, nil,
		),
		recordsRejectedDesc: prometheus.NewDesc(
			"procexit_records_rejected_total",
			"Total number of event records that did not produce an exit, by reason.",
			[]string{"reason"}, nil,
		),
		unknownVersionDesc: prometheus.NewDesc(
			"procexit_exits_unknown_version_total",
			"Total number of exits decoded with the fallback layout of an unknown schema version.",
			nil, nil,
		),
		consumerErrorsDesc: prometheus.NewDesc(
			"procexit_consumer_errors_total",
			"Total number of records whose processing panicked on the consumer worker.",
			nil, nil,
		),
		subscriberPanicDesc: prometheus.NewDesc(
			"procexit_subscriber_panics_total",
			"Total number of subscriber calls that panicked.",
			nil, nil,
		),
		rtLostDesc: prometheus.NewDesc(
			"procexit_consumer_rt_lost_events_total",
			"Total number of RT_LostEvent records received from the session.",
			nil, nil,
		),

		sessionBuffersInUseDesc: prometheus.NewDesc(
			"procexit_session_buffers_in_use",
			"The current number of buffers in use by the kernel session.",
			nil, session,
		),
		sessionBuffersFreeDesc: prometheus.NewDesc(
			"procexit_session_buffers_free",
			"The current number of free buffers of the kernel session.",
			nil, session,
		),
		sessionEventsLostDesc: prometheus.NewDesc(
			"procexit_session_events_lost_total",
			"Total number of events lost by the kernel session.",
			nil, session,
		),
		sessionRTBuffersLostDesc: prometheus.NewDesc(
			"procexit_session_realtime_buffers_lost_total",
			"Total number of real-time buffers lost by the kernel session.",
			nil, session,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.exitsDecodedDesc
	ch <- c.recordsReceivedDesc
	ch <- c.recordsRejectedDesc
	ch <- c.unknownVersionDesc
	ch <- c.consumerErrorsDesc
	ch <- c.subscriberPanicDesc
	ch <- c.rtLostDesc
	ch <- c.sessionBuffersInUseDesc
	ch <- c.sessionBuffersFreeDesc
	ch <- c.sessionEventsLostDesc
	ch <- c.sessionRTBuffersLostDesc
}

// Collect implements prometheus.Collector. Session statistics are only
// reported while the monitor runs.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.monitor.Stats()

	ch <- prometheus.MustNewConstMetric(c.exitsDecodedDesc, prometheus.CounterValue, float64(st.ExitsDecoded))
	ch <- prometheus.MustNewConstMetric(c.recordsReceivedDesc, prometheus.CounterValue, float64(st.RecordsReceived))
	for reason, n := range st.Rejected {
		ch <- prometheus.MustNewConstMetric(c.recordsRejectedDesc, prometheus.CounterValue, float64(n), reason)
	}
	ch <- prometheus.MustNewConstMetric(c.unknownVersionDesc, prometheus.CounterValue, float64(st.UnknownVersion))
	ch <- prometheus.MustNewConstMetric(c.consumerErrorsDesc, prometheus.CounterValue, float64(st.ConsumerErrors))
	ch <- prometheus.MustNewConstMetric(c.subscriberPanicDesc, prometheus.CounterValue, float64(st.SubscriberPanics))
	ch <- prometheus.MustNewConstMetric(c.rtLostDesc, prometheus.CounterValue, float64(st.RealTimeLost))

	if !st.Running {
		return
	}
	prop, err := c.monitor.SessionProperties()
	if err != nil {
		log.Error().Err(err).Str("session", c.monitor.cfg.Session.Name).
			Msg("Failed to query trace session for stats")
		return
	}
	ch <- prometheus.MustNewConstMetric(c.sessionBuffersInUseDesc, prometheus.GaugeValue, float64(prop.NumberOfBuffers))
	ch <- prometheus.MustNewConstMetric(c.sessionBuffersFreeDesc, prometheus.GaugeValue, float64(prop.FreeBuffers))
	ch <- prometheus.MustNewConstMetric(c.sessionEventsLostDesc, prometheus.CounterValue, float64(prop.EventsLost))
	ch <- prometheus.MustNewConstMetric(c.sessionRTBuffersLostDesc, prometheus.CounterValue, float64(prop.RealTimeBuffersLost))
}
