package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"livetrack/internal/api"
	"livetrack/internal/config"
	"livetrack/internal/db"
	"livetrack/internal/fetch"
	"livetrack/internal/metrics"
	"livetrack/internal/netgate"
	"livetrack/internal/normalize"
	"livetrack/internal/poll"
	"livetrack/internal/publisher"
	"livetrack/internal/store"
	"livetrack/internal/transit"
)

func main() {
	// Load configuration from .env, optional YAML file and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval(), cfg.FetchTimeout())
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	// Connectivity gate fed by the TCP prober
	gate := netgate.New()
	if mcol != nil {
		gate.Subscribe(mcol.SetNetwork)
	}
	var prober *netgate.Prober
	if cfg.ProbeInterval() > 0 {
		prober = netgate.NewProber(gate, cfg.ProbeAddr, cfg.ProbeInterval())
		prober.Start(ctx)
		log.Printf("probing %s every %s", cfg.ProbeAddr, cfg.ProbeInterval())
	} else {
		gate.Set(true)
	}

	// Optional static catalog
	var catalog *db.Catalog
	if cfg.DatabaseURL != "" {
		dsn := cfg.DatabaseURL
		if cfg.CatalogDBName != "" {
			dsn, err = db.WithDBName(dsn, cfg.CatalogDBName)
			if err != nil {
				log.Fatalf("compose DSN: %v", err)
			}
		}
		catalog, err = db.Open(dsn)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer catalog.Close()
		if err := catalog.Ping(ctx); err != nil {
			log.Fatalf("db ping error: %v", err)
		}
		if cfg.CatalogSeed != "" {
			seed, err := db.LoadSeed(cfg.CatalogSeed)
			if err != nil {
				log.Fatalf("catalog seed error: %v", err)
			}
			if err := catalog.Apply(ctx, seed); err != nil {
				log.Fatalf("catalog seed error: %v", err)
			}
			log.Printf("catalog seeded with %d lines, %d stops", len(seed.Lines), len(seed.Stops))
		}
	}

	// Optional NATS fan-out
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
	}

	client, norm, endpoint, err := feed(cfg)
	if err != nil {
		log.Fatalf("feed setup error: %v", err)
	}
	st := store.New()

	pollOpts := []poll.Option{
		poll.WithInterval(cfg.PollInterval()),
		poll.WithEndpoint(endpoint),
	}
	notifiers := poll.Notifiers{poll.LogNotifier{}}
	if pub != nil {
		notifiers = append(notifiers, pub)
		pollOpts = append(pollOpts, poll.WithPublisher(pub))
	}
	pollOpts = append(pollOpts, poll.WithNotifier(notifiers))
	if mcol != nil {
		pollOpts = append(pollOpts, poll.WithMetrics(&pollMetrics{c: mcol}))
	}
	newTracker := func() api.Tracker {
		return poll.New(client, norm, st, gate, pollOpts...)
	}

	apiOpts := []api.Option{api.WithLocation(cfg.Location)}
	if catalog != nil {
		apiOpts = append(apiOpts, api.WithCatalog(catalog))
	}
	server := api.New(newTracker, st, gate, apiOpts...)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api server error: %v", err)
			cancel()
		}
	}()
	log.Printf("api listening on %s (feed=%s, every %s)", cfg.ListenAddr, cfg.FeedFormat, cfg.PollInterval())

	// Block until context cancelled
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	server.Shutdown()
	if prober != nil {
		prober.Stop()
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

// feed builds the fetcher, normalizer and endpoint mapping for the configured
// feed format.
func feed(cfg *config.Config) (*fetch.Client, normalize.Normalizer, func(transit.Target) string, error) {
	opts := []fetch.Option{
		fetch.WithCredentials(cfg.AppID, cfg.AppKey),
		fetch.WithTimeout(cfg.FetchTimeout()),
	}
	if cfg.FeedFormat == config.FormatGTFSRT {
		client, err := fetch.NewClient(cfg.APIBaseURL, append(opts, fetch.WithBinaryBody())...)
		path := cfg.GTFSRTPath
		return client, normalize.GTFSRT{}, func(transit.Target) string { return path }, err
	}
	client, err := fetch.NewClient(cfg.APIBaseURL, opts...)
	return client, normalize.TfWM{}, transit.Target.Endpoint, err
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

var pollStates = []string{
	poll.Idle.String(), poll.Polling.String(), poll.Fetching.String(), poll.Stopped.String(),
}

// pollMetrics adapts our Collector to poll.Metrics.
type pollMetrics struct{ c *metrics.Collector }

func (p *pollMetrics) TickSkipped()          { p.c.SkippedTicks.Inc() }
func (p *pollMetrics) SetState(s poll.State) { p.c.SetState(s.String(), pollStates) }

func (p *pollMetrics) ObservePoll(res poll.Result) {
	p.c.Polls.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == poll.OutcomeDiscarded {
		return
	}
	p.c.FetchDuration.Observe(res.Fetch.Seconds())
	switch res.Outcome {
	case poll.OutcomeUpdated, poll.OutcomeEmpty:
		p.c.Journeys.WithLabelValues(string(transit.Inbound)).Set(float64(len(res.Snapshot.Inbound().Journeys)))
		p.c.Journeys.WithLabelValues(string(transit.Outbound)).Set(float64(len(res.Snapshot.Outbound().Journeys)))
		p.c.RecordsDropped.WithLabelValues("missing_journey_id").Add(float64(res.Report.MissingJourneyID))
		p.c.RecordsDropped.WithLabelValues("invalid").Add(float64(res.Report.Invalid))
		p.c.RecordsDropped.WithLabelValues("duplicate_stop").Add(float64(res.Report.DuplicateReplaced))
		p.c.LastUpdate.SetToCurrentTime()
	default:
		p.c.Journeys.WithLabelValues(string(transit.Inbound)).Set(0)
		p.c.Journeys.WithLabelValues(string(transit.Outbound)).Set(0)
	}
}
