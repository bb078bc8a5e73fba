package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/discovery"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

const maxBatchBody = 1 << 20

var servePort int

// batchRunner runs one ingestion batch.
type batchRunner interface {
	Run(ctx context.Context, req discovery.Request) (*discovery.Result, error)
}

// runLister reads recorded search runs.
type runLister interface {
	ListSearchRuns(ctx context.Context, filter store.RunFilter) ([]model.LeadSearchRun, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for batch lead ingestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		var runs runLister
		if st != nil {
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				zap.L().Warn("store migration failed", zap.Error(err))
			}
			runs = st
		} else {
			zap.L().Warn("no store configured, batches return previews only")
		}

		svc := newService(newPlacesClient(cfg.Google), st, 0)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(svc, runs, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter mounts the API. runs may be nil when no store is configured.
func buildRouter(svc batchRunner, runs runLister, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/leads/batch", handleBatch(svc))
		r.Get("/runs", handleRuns(runs))
	})

	return r
}

func handleBatch(svc batchRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req discovery.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req = applyDefaults(req)

		res, err := svc.Run(r.Context(), req)
		if err != nil {
			log := zap.L().With(zap.String("request_id", middleware.GetReqID(r.Context())))
			if eris.Is(err, discovery.ErrInvalidRequest) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error("batch failed", zap.Error(err))
			body := map[string]any{"error": err.Error()}
			var ce *discovery.ChunkError
			if errors.As(err, &ce) {
				body["committedChunks"] = ce.CommittedChunks()
			}
			writeJSON(w, http.StatusInternalServerError, body)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRuns(runs runLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runs == nil {
			writeError(w, http.StatusServiceUnavailable, "store not configured")
			return
		}
		q := r.URL.Query()
		filter := store.RunFilter{
			Niche:    q.Get("niche"),
			Location: q.Get("location"),
		}
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			filter.Limit = n
		}

		list, err := runs.ListSearchRuns(r.Context(), filter)
		if err != nil {
			zap.L().Error("list search runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []model.LeadSearchRun{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}
