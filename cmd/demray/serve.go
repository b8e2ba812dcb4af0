package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pavletto/demray/internal/api"
	"github.com/pavletto/demray/internal/logging"
	"github.com/pavletto/demray/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const (
	readTimeout  = 5
	writeTimeout = 10
	idleTimeout  = 120

	cacheStatsInterval = 15 * time.Second
)

func getenv(k, d string) string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP API server",
	Long: `Start an HTTP server that provides REST API endpoints for:
  - /intersection - Intersect a look ray with the DEM
  - /radius - Get the local DEM radius at a location
  - /health - Health check endpoint
  - /metrics - Prometheus metrics

Configuration can be provided via environment variables or command-line flags.
Flags take precedence over environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cmd)
		if err != nil {
			log.Fatal(err)
		}
		defer a.close(context.Background())

		metrics, err := observability.NewShapeCollector(prometheus.DefaultRegisterer)
		if err != nil {
			log.Fatal(err)
		}
		a.env.Shape.Metrics = metrics
		s := &api.Server{Env: a.env, Metrics: metrics, Logger: a.log}

		addr := getenv("ADDR", ":8080")
		if addrFlag, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
			addr = addrFlag
		}

		srv := &http.Server{
			Addr:         addr,
			Handler:      s.Routes(),
			ReadTimeout:  readTimeout * time.Second,
			WriteTimeout: writeTimeout * time.Second,
			IdleTimeout:  idleTimeout * time.Second,
		}

		go reportCacheStats(ctx, a, metrics)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		a.log.Info(ctx, "starting server",
			logging.String("addr", addr),
			logging.String("dem", a.cfg.DEM),
			logging.String("source", a.meta.Source),
			logging.String("cache_dir", a.cfg.CacheDir),
			logging.Bool("download", a.cfg.URLTemplate != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	},
}

// reportCacheStats publishes the raster block cache hit ratio until ctx ends.
func reportCacheStats(ctx context.Context, a *app, metrics *observability.ShapeCollector) {
	t := time.NewTicker(cacheStatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			metrics.SetRasterCacheStats(a.file.CacheStats())
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on")
}
