package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident pipeline.
type Metrics struct {
	CreatedTotal     *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	IngestTotal      *prometheus.CounterVec
	TriageDuration   prometheus.Histogram
	RemedyDuration   prometheus.Histogram
	VerifyTotal      *prometheus.CounterVec
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_incidents_created_total",
			Help: "Incidents created, by severity.",
		}, []string{"severity"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_incident_transitions_total",
			Help: "Incident status transitions.",
		}, []string{"from", "to"}),
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_alerts_ingested_total",
			Help: "Alerts seen at ingest, by outcome (accepted, suppressed, released).",
		}, []string{"outcome"}),
		TriageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_triage_duration_seconds",
			Help:    "Duration of triage passes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
		RemedyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_remediation_duration_seconds",
			Help:    "Duration of remediation passes including verification wait.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		VerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_verifications_total",
			Help: "Post-remediation verification outcomes.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.CreatedTotal,
		m.TransitionsTotal,
		m.IngestTotal,
		m.TriageDuration,
		m.RemedyDuration,
		m.VerifyTotal,
	)
	return m
}
