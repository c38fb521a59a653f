package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Polls            *prometheus.CounterVec // outcome label: updated|empty|transport_error|normalize_error|discarded
	SkippedTicks     prometheus.Counter
	RecordsDropped   *prometheus.CounterVec // reason label: missing_journey_id|invalid|duplicate_stop
	Journeys         *prometheus.GaugeVec   // direction label: inbound|outbound
	SchedulerState   *prometheus.GaugeVec   // state label, 1 for the current state
	NetworkConnected prometheus.Gauge
	LastUpdate       prometheus.Gauge // unix seconds

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	FetchDuration   prometheus.Histogram
	PublishDuration prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
	FetchTimeout prometheus.Gauge // seconds
}

func NewCollector(pollInterval, fetchTimeout time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livetrack_polls_total",
			Help: "Poll attempts by outcome.",
		}, []string{"outcome"}),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrack_skipped_ticks_total",
			Help: "Timer ticks skipped because a request was still in flight.",
		}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livetrack_records_dropped_total",
			Help: "Prediction records that did not reach a snapshot.",
		}, []string{"reason"}),
		Journeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livetrack_journeys",
			Help: "Journeys in the latest snapshot.",
		}, []string{"direction"}),
		SchedulerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livetrack_scheduler_state",
			Help: "1 for the scheduler's current state, 0 otherwise.",
		}, []string{"state"}),
		NetworkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_network_connected",
			Help: "1 if the transit API is reachable, 0 otherwise.",
		}),
		LastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_last_update_timestamp_seconds",
			Help: "Unix time of the last applied snapshot.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrack_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livetrack_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livetrack_fetch_duration_seconds",
			Help:    "Duration of transit API requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livetrack_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_poll_interval_seconds",
			Help: "Poll interval in seconds.",
		}),
		FetchTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livetrack_fetch_timeout_seconds",
			Help: "Per-request timeout in seconds.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.SkippedTicks, c.RecordsDropped, c.Journeys,
		c.SchedulerState, c.NetworkConnected, c.LastUpdate,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.FetchDuration, c.PublishDuration,
		c.PollInterval, c.FetchTimeout,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.FetchTimeout.Set(fetchTimeout.Seconds())

	return c
}

// SetState marks state as current among all.
func (c *Collector) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		c.SchedulerState.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) SetNetwork(connected bool) {
	if connected {
		c.NetworkConnected.Set(1)
	} else {
		c.NetworkConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
