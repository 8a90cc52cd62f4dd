package keepalive

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	utilizationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notebook_agent_cpu_utilization_ratio",
		Help: "CPU time over wall time of the tracked processes in the last sampling window.",
	})
	lastActivityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notebook_agent_last_activity_timestamp_seconds",
		Help: "Unix time of the last liveness marker refresh.",
	})
	sampleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notebook_agent_sample_errors_total",
		Help: "CPU accounting reads that failed and were skipped.",
	})
	reportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notebook_agent_activity_reports_total",
		Help: "Liveness marker refresh attempts by result.",
	}, []string{"result"})
)

func init() {
	metrics.Registry.MustRegister(utilizationGauge, lastActivityGauge, sampleErrorsTotal, reportsTotal)
}
