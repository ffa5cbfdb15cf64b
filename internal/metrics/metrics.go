// Package metrics exposes Prometheus metrics for the user store and the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements database.Recorder, users.Observer and
// broadcast.Recorder on top of Prometheus metrics.
type Collector struct {
	commits     *prometheus.CounterVec
	users       prometheus.Gauge
	freeUses    prometheus.Counter
	grants      prometheus.Counter
	grantedDays prometheus.Counter
	deliveries  *prometheus.CounterVec
	aiRequests  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studybot_store_commits_total",
			Help: "Snapshot commit attempts by result (ok, failed, dropped).",
		}, []string{"result"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studybot_users",
			Help: "Number of known users.",
		}),
		freeUses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studybot_free_uses_total",
			Help: "Free uses consumed by non-premium users.",
		}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studybot_premium_grants_total",
			Help: "Premium grants issued.",
		}),
		grantedDays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studybot_premium_granted_days_total",
			Help: "Premium days granted.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studybot_broadcast_deliveries_total",
			Help: "Broadcast deliveries by result (sent, failed).",
		}, []string{"result"}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studybot_ai_requests_total",
			Help: "AI completion requests by result (ok, failed).",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.commits,
		c.users,
		c.freeUses,
		c.grants,
		c.grantedDays,
		c.deliveries,
		c.aiRequests,
	)

	return c
}

// RecordCommit counts one commit attempt
func (c *Collector) RecordCommit(result string) {
	c.commits.WithLabelValues(result).Inc()
}

// SetUsers sets the user gauge
func (c *Collector) SetUsers(n int) {
	c.users.Set(float64(n))
}

// RecordFreeUse counts one consumed free use
func (c *Collector) RecordFreeUse() {
	c.freeUses.Inc()
}

// RecordPremiumGrant counts one grant of days
func (c *Collector) RecordPremiumGrant(days int) {
	c.grants.Inc()
	c.grantedDays.Add(float64(days))
}

// RecordDelivery counts one broadcast delivery
func (c *Collector) RecordDelivery(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	c.deliveries.WithLabelValues(result).Inc()
}

// RecordAIRequest counts one AI completion
func (c *Collector) RecordAIRequest(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.aiRequests.WithLabelValues(result).Inc()
}

// Handler serves the metrics registered in gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
