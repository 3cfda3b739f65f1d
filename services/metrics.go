package services

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters the services update.
type Metrics struct {
	LeadsReceived       *prometheus.CounterVec
	NotificationsFailed prometheus.Counter
	ExpertSearches      prometheus.Counter
	Cancellations       *prometheus.CounterVec
	ArticlesPublished   prometheus.Counter
	MaintenanceRuns     *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LeadsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gainable_leads_received_total",
			Help: "Persisted leads by routing target (expert or admin).",
		}, []string{"route"}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gainable_lead_notifications_failed_total",
			Help: "Lead notifications that could not be handed to the mail provider.",
		}),
		ExpertSearches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gainable_expert_searches_total",
			Help: "Expert directory searches served.",
		}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gainable_subscription_cancellations_total",
			Help: "Subscription cancellation attempts by result.",
		}, []string{"result"}),
		ArticlesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gainable_articles_published_total",
			Help: "Articles moved to published.",
		}),
		MaintenanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gainable_maintenance_runs_total",
			Help: "Maintenance job executions by job and outcome.",
		}, []string{"job", "outcome"}),
	}
	reg.MustRegister(m.LeadsReceived, m.NotificationsFailed, m.ExpertSearches,
		m.Cancellations, m.ArticlesPublished, m.MaintenanceRuns)
	return m
}
