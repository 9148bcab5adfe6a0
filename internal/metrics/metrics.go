package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesParsed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pocketsync_frames_parsed_total",
		Help: "Realtime frames parsed",
	})
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketsync_frames_dropped_total",
		Help: "Malformed realtime frames dropped",
	}, []string{"reason"})
	EventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketsync_events_emitted_total",
		Help: "Domain events emitted by the reconciliation engine",
	}, []string{"kind"})
	PollRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pocketsync_poll_runs_total",
		Help: "Total polling fetches",
	})
	PollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pocketsync_poll_errors_total",
		Help: "Total polling fetch errors",
	})
	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pocketsync_poll_duration_seconds",
		Help:    "Polling fetch duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketsync_api_requests_total",
		Help: "Backend API requests",
	}, []string{"op"})
	APIErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketsync_api_errors_total",
		Help: "Backend API request failures",
	}, []string{"op"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketsync_command_runs_total",
		Help: "CLI command runs",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketsync_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(FramesParsed, FramesDropped, EventsEmitted, PollRuns, PollErrors, PollDuration,
		APIRequests, APIErrors, CommandRuns, CommandErrors)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObservePollDuration records a polling fetch duration.
func ObservePollDuration(start time.Time) {
	PollDuration.Observe(time.Since(start).Seconds())
}

func IncFrameDropped(reason string) { FramesDropped.WithLabelValues(reason).Inc() }
func IncEvent(kind string)          { EventsEmitted.WithLabelValues(kind).Inc() }
func IncAPIRequest(op string)       { APIRequests.WithLabelValues(op).Inc() }
func IncAPIError(op string)         { APIErrors.WithLabelValues(op).Inc() }
func IncCommandRun(cmd string)      { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string)    { CommandErrors.WithLabelValues(cmd).Inc() }
