// Package metrics exposes Prometheus collectors for the HTTP layer and the
// background jobs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the application collectors. A nil *Metrics records nothing.
type Metrics struct {
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	jobRuns             *prometheus.CounterVec
	jobErrors           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	jobLastRun          *prometheus.GaugeVec
	purgedRelationships prometheus.Counter
	purgedPosts         prometheus.Counter
	purgedAttachments   prometheus.Counter
	orphansDeleted      prometheus.Counter
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cron_job_runs_total",
				Help: "Total number of cron job runs",
			},
			[]string{"job_name"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cron_job_errors_total",
				Help: "Total number of cron job errors",
			},
			[]string{"job_name"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cron_job_run_duration_seconds",
				Help:    "Duration of cron job runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"job_name"},
		),
		jobLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cron_job_last_run_time_seconds",
				Help: "Last run time of cron job in seconds since epoch",
			},
			[]string{"job_name"},
		),
		purgedRelationships: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reaper_relationships_purged_total",
			Help: "Relationships permanently deleted after their grace period",
		}),
		purgedPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reaper_posts_deleted_total",
			Help: "Posts deleted together with purged relationships",
		}),
		purgedAttachments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reaper_attachments_deleted_total",
			Help: "Attachments deleted together with purged relationships",
		}),
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orphaned_attachments_deleted_total",
			Help: "Uploads removed because they were never linked to a post",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
		m.jobLastRun,
		m.purgedRelationships,
		m.purgedPosts,
		m.purgedAttachments,
		m.orphansDeleted,
	)
	return m
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordJobRun records a background job run.
func (m *Metrics) RecordJobRun(jobName string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.jobErrors.WithLabelValues(jobName).Inc()
	}
	m.jobRuns.WithLabelValues(jobName).Inc()
	m.jobDuration.WithLabelValues(jobName).Observe(duration.Seconds())
	m.jobLastRun.WithLabelValues(jobName).Set(float64(time.Now().Unix()))
}

// AddPurged counts rows removed by a grace period sweep.
func (m *Metrics) AddPurged(relationships, posts, attachments int64) {
	if m == nil {
		return
	}
	m.purgedRelationships.Add(float64(relationships))
	m.purgedPosts.Add(float64(posts))
	m.purgedAttachments.Add(float64(attachments))
}

// AddOrphansDeleted counts removed orphaned uploads.
func (m *Metrics) AddOrphansDeleted(n int64) {
	if m == nil {
		return
	}
	m.orphansDeleted.Add(float64(n))
}
