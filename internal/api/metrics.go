package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aetherframe/aetherframe/internal/aether"
)

// jobsCollector exposes job counts as gauges, read from the store at
// scrape time.
type jobsCollector struct {
	store    Store
	total    *prometheus.Desc
	byStatus *prometheus.Desc
}

func newJobsCollector(st Store) *jobsCollector {
	return &jobsCollector{
		store: st,
		total: prometheus.NewDesc(
			"aether_jobs_total",
			"Total jobs",
			nil, nil,
		),
		byStatus: prometheus.NewDesc(
			"aether_jobs_status_total",
			"Jobs by status",
			[]string{"status"}, nil,
		),
	}
}

func (c *jobsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.byStatus
}

func (c *jobsCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.store.CountJobsByStatus(context.Background())
	if err != nil {
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(total))
	// Every status gets a line, zero or not, so scrapes see a stable set.
	for _, status := range []aether.JobStatus{
		aether.JobPending, aether.JobRunning, aether.JobCompleted, aether.JobFailed, aether.JobCancelled,
	} {
		ch <- prometheus.MustNewConstMetric(c.byStatus, prometheus.GaugeValue,
			float64(counts[status]), string(status))
	}
}

// metricsHandler serves a dedicated registry so only the service's own
// metrics are exposed.
func (s *Server) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newJobsCollector(s.store))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
