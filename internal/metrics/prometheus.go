package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	scheduledTotal   prometheus.Counter
	cancelledTotal   prometheus.Counter
	firedTotal       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	timersArmed      prometheus.Gauge

	recoveryTotal *prometheus.CounterVec

	auditDrift *prometheus.GaugeVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		scheduledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sendlater_tasks_scheduled_total",
			Help: "Total number of tasks accepted and armed.",
		}),
		cancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sendlater_tasks_cancelled_total",
			Help: "Total number of tasks cancelled before firing.",
		}),
		firedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sendlater_tasks_fired_total",
			Help: "Total number of fired tasks by delivery outcome.",
		}, []string{"outcome"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sendlater_delivery_duration_seconds",
			Help:    "Time spent in the notifier per fired task.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		timersArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sendlater_timers_armed",
			Help: "Number of timers currently held by the registry.",
		}),
		recoveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sendlater_recovery_records_total",
			Help: "Records processed by startup recovery by result.",
		}, []string{"result"}),
		auditDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sendlater_audit_drift",
			Help: "Ids present on only one side of the store/registry comparison.",
		}, []string{"side"}),
	}

	s.register(reg, s.scheduledTotal, "sendlater_tasks_scheduled_total")
	s.register(reg, s.cancelledTotal, "sendlater_tasks_cancelled_total")
	s.register(reg, s.firedTotal, "sendlater_tasks_fired_total")
	s.register(reg, s.deliveryDuration, "sendlater_delivery_duration_seconds")
	s.register(reg, s.timersArmed, "sendlater_timers_armed")
	s.register(reg, s.recoveryTotal, "sendlater_recovery_records_total")
	s.register(reg, s.auditDrift, "sendlater_audit_drift")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("metrics: register failed")
	}
}

func (s *PrometheusSink) TaskScheduled() { s.scheduledTotal.Inc() }

func (s *PrometheusSink) TaskCancelled() { s.cancelledTotal.Inc() }

func (s *PrometheusSink) TaskFired(outcome string, d time.Duration) {
	s.firedTotal.WithLabelValues(outcome).Inc()
	s.deliveryDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) TimersArmed(n int) { s.timersArmed.Set(float64(n)) }

func (s *PrometheusSink) RecoveryRecord(result string) {
	s.recoveryTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) AuditDrift(storeOnly, registryOnly int) {
	s.auditDrift.WithLabelValues("store_only").Set(float64(storeOnly))
	s.auditDrift.WithLabelValues("registry_only").Set(float64(registryOnly))
}
