package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/config"
	"github.com/sells-group/leadpipe/internal/discovery"
	"github.com/sells-group/leadpipe/internal/resilience"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/pkg/google"
)

// initStore opens the configured store. It returns a nil Store when no
// database URL is set, which puts ingestion into preview mode. A Postgres
// server that is down does not fail here; the pipeline's Ping reports it.
func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	if c.DatabaseURL == "" {
		return nil, nil
	}
	switch c.Driver {
	case "sqlite":
		sq, err := store.NewSQLite(c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return sq, nil
	case "postgres", "":
		pg, err := store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{
			MaxConns: c.MaxConns,
			MinConns: c.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// openStore opens and migrates the store for commands that cannot run without one.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("store.database_url is required (LEADPIPE_STORE_DATABASE_URL)")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newPlacesClient(c config.GoogleConfig) google.Client {
	retry := resilience.FromRetryConfig(c.MaxRetries, c.InitialBackoffMs, c.MaxBackoffMs)
	retry.OnRetry = resilience.RetryLogger("google_places", "request")

	breaker := resilience.FromCircuitConfig(c.CircuitFailureThreshold, c.CircuitResetSecs)
	breaker.ShouldTrip = resilience.IsTransient
	breaker.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("places circuit breaker state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	opts := []google.Option{
		google.WithRateLimit(c.RateLimit),
		google.WithRetry(retry),
		google.WithCircuitBreaker(resilience.NewCircuitBreaker(breaker)),
	}
	if c.BaseURL != "" {
		opts = append(opts, google.WithBaseURL(c.BaseURL))
	}
	if c.TimeoutSecs > 0 {
		opts = append(opts, google.WithHTTPClient(&http.Client{
			Timeout: time.Duration(c.TimeoutSecs) * time.Second,
		}))
	}
	return google.NewClient(c.Key, opts...)
}

// newService wires the pipeline around st, which may be nil.
func newService(searcher discovery.Searcher, st store.Store, concurrency int) *discovery.Service {
	if concurrency <= 0 {
		concurrency = cfg.Discovery.Concurrency
	}
	dcfg := discovery.Config{
		ChunkSize:   cfg.Discovery.ChunkSize,
		Concurrency: concurrency,
		GroupName:   cfg.Discovery.NoWebsite,
	}
	var ds discovery.Store
	if st != nil {
		ds = st
	}
	return discovery.NewService(searcher, ds, dcfg)
}

// applyDefaults fills request fields left unset from configuration.
func applyDefaults(req discovery.Request) discovery.Request {
	if req.Max == 0 {
		req.Max = cfg.Discovery.MaxPerPair
	}
	return req
}
