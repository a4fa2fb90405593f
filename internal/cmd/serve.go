package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryhazerus/fastlimit"
	"github.com/ryhazerus/fastlimit/httplimit"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a demo API guarded by the rate limiter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			mc := fastlimit.NewMetricsCollectorWithOpts(fastlimit.MetricsCollectorOpts{Namespace: "fastlimit"})
			mc.MustRegister(reg)

			l, err := a.openLimiter(cmd, fastlimit.WithMetrics(mc))
			if err != nil {
				return err
			}
			defer l.Close()

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           newRouter(l, reg, a.cfg.FailOpen, a.logger),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening",
					zap.String("addr", srv.Addr),
					zap.Int64("limit", l.Limit()),
					zap.Duration("interval", l.Interval()))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newRouter(l *fastlimit.Limiter, gatherer prometheus.Gatherer, failOpen bool, logger *zap.Logger) http.Handler {
	policy := httplimit.FailClosed
	if failOpen {
		policy = httplimit.FailOpen
	}
	limit := httplimit.Middleware(l, httplimit.WithLogger(logger), httplimit.WithFailurePolicy(policy))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Get("/rate-limit", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]string{"detail": "Welcome to limit route"})
		})
		r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{"id": chi.URLParam(r, "id")})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
