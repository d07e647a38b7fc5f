package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics are the Prometheus collectors of the server, registered on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	// MagicLinks counts matcher outcomes by result (emailed, redirected, not_found, ambiguous, inactive, invalid).
	MagicLinks *prometheus.CounterVec
	// Signups counts finalized signups by channel (magic_link, invitation) and whether the member became admin.
	Signups *prometheus.CounterVec
	// InvitationsSent counts persisted invitations.
	InvitationsSent prometheus.Counter
	// MembersRemoved counts membership deactivations.
	MembersRemoved prometheus.Counter
}

// NewMetrics creates and registers all collectors, plus the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inclusion",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inclusion",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		MagicLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inclusion",
			Name:      "magic_link_selections_total",
			Help:      "Organization selection outcomes.",
		}, []string{"result"}),
		Signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inclusion",
			Name:      "signups_total",
			Help:      "Finalized staff signups.",
		}, []string{"channel", "admin"}),
		InvitationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inclusion",
			Name:      "invitations_sent_total",
			Help:      "Invitations persisted and mailed.",
		}),
		MembersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inclusion",
			Name:      "members_removed_total",
			Help:      "Memberships deactivated by an admin.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests, m.HTTPDuration, m.MagicLinks, m.Signups, m.InvitationsSent, m.MembersRemoved,
	)
	return m
}

// MagicLinkResult records one selection outcome. Nil-safe.
func (m *Metrics) MagicLinkResult(result string) {
	if m == nil {
		return
	}
	m.MagicLinks.WithLabelValues(result).Inc()
}

// Signup records one finalized signup. Nil-safe.
func (m *Metrics) Signup(channel string, admin bool) {
	if m == nil {
		return
	}
	label := "false"
	if admin {
		label = "true"
	}
	m.Signups.WithLabelValues(channel, label).Inc()
}

// Invitations adds n sent invitations. Nil-safe.
func (m *Metrics) Invitations(n int) {
	if m == nil {
		return
	}
	m.InvitationsSent.Add(float64(n))
}

// MemberRemoved records one removal. Nil-safe.
func (m *Metrics) MemberRemoved() {
	if m == nil {
		return
	}
	m.MembersRemoved.Inc()
}
