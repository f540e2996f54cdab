package dispatcher

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	queueDepth  prometheus.Gauge
	inFlight    prometheus.Gauge
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nicacher",
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Number of jobs claimed by the most recent queue poll (at most the batch size); jobs left waiting are not counted.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nicacher",
			Subsystem: "dispatcher",
			Name:      "in_flight",
			Help:      "Number of jobs currently being executed by a worker.",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nicacher",
			Subsystem: "dispatcher",
			Name:      "jobs_total",
			Help:      "Count of completed jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nicacher",
			Subsystem: "dispatcher",
			Name:      "job_duration_seconds",
			Help:      "Time spent executing a job, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	reg.MustRegister(m.queueDepth, m.inFlight, m.jobsTotal, m.jobDuration)

	return m
}
