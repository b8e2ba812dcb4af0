package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pavletto/demray/internal/api"
	"github.com/pavletto/demray/internal/elevation"
	"github.com/pavletto/demray/internal/logging"
	"github.com/pavletto/demray/internal/observability"
	"github.com/pavletto/demray/internal/raster"
	"github.com/pavletto/demray/internal/shape"
	"github.com/spf13/cobra"
)

// Config holds application configuration
type Config struct {
	DEM         string
	CacheDir    string
	URLTemplate string
	Radii       [3]float64
	IFOV        float64

	MaxSecantIterations     int
	MaxFixedPointIterations int

	BlockSize   int
	CacheBlocks int

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables and command flags.
// Flags take precedence over environment variables.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	cfg := Config{}

	cfg.DEM = getConfigString(cmd, "dem", "DEMRAY_DEM", "")
	cfg.CacheDir = getConfigString(cmd, "cache-dir", "DEMRAY_CACHE_DIR", "./cache")
	cfg.URLTemplate = getConfigString(cmd, "url-template", "DEMRAY_URL_TEMPLATE", "")
	cfg.IFOV = getConfigFloat(cmd, "ifov", "DEMRAY_IFOV", 0)
	cfg.MaxSecantIterations = getConfigInt(cmd, "max-secant-iterations", "DEMRAY_MAX_SECANT_IT", shape.DefaultMaxIterations)
	cfg.MaxFixedPointIterations = getConfigInt(cmd, "max-fixed-point-iterations", "DEMRAY_MAX_FIXED_IT", shape.DefaultMaxIterations)
	cfg.BlockSize = getConfigInt(cmd, "block-size", "DEMRAY_BLOCK_SIZE", 256)
	cfg.CacheBlocks = getConfigInt(cmd, "cache-blocks", "DEMRAY_CACHE_BLOCKS", 64)
	cfg.LogLevel = getConfigString(cmd, "log-level", "DEMRAY_LOG_LEVEL", "info")
	cfg.LogFormat = getConfigString(cmd, "log-format", "DEMRAY_LOG_FORMAT", "text")

	if radii := getConfigString(cmd, "radii", "DEMRAY_RADII", ""); radii != "" {
		vals, err := parseFloats(radii, 3)
		if err != nil {
			return cfg, fmt.Errorf("invalid radii: %w", err)
		}
		copy(cfg.Radii[:], vals)
	}
	if cfg.DEM == "" {
		return cfg, fmt.Errorf("a DEM is required (--dem or DEMRAY_DEM)")
	}
	return cfg, nil
}

// CreateStore creates a DEM store from the configuration
func (c *Config) CreateStore() (*raster.Store, error) {
	return raster.NewStore(raster.StoreConfig{
		CacheDir:          c.CacheDir,
		URLTemplate:       c.URLTemplate,
		PermitDownload:    c.URLTemplate != "",
		HTTPClientTimeout: 60 * time.Second,
		File: raster.FileConfig{
			BlockSize:   c.BlockSize,
			CacheBlocks: c.CacheBlocks,
		},
	})
}

// Logger builds the process logger.
func (c *Config) Logger() logging.Logger {
	return logging.New(logging.Config{Level: c.LogLevel, Format: c.LogFormat})
}

// ShapeConfig translates the refinement settings.
func (c *Config) ShapeConfig(log logging.Logger) shape.Config {
	sc := shape.Config{
		MaxSecantIterations:     c.MaxSecantIterations,
		MaxFixedPointIterations: c.MaxFixedPointIterations,
		Logger:                  log,
	}
	if c.IFOV > 0 {
		sc.Resolver = shape.AngularResolver{IFOV: c.IFOV}
	}
	return sc
}

// app is everything a command needs to answer requests against one DEM.
type app struct {
	cfg      Config
	log      logging.Logger
	store    *raster.Store
	file     *raster.File
	meta     raster.Meta
	env      *api.Env
	shutdown func(context.Context) error
}

// openApp loads configuration, starts tracing and opens the configured DEM.
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: cfg.Logger()}

	a.shutdown, err = observability.InitTracing(ctx, observability.TracingConfigFromEnv(), a.log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.store, err = cfg.CreateStore()
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("create store: %w", err)
	}
	a.file, a.meta, err = a.store.Open(ctx, cfg.DEM)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open dem %q: %w", cfg.DEM, err)
	}
	field, err := elevation.FromLabel(a.file, a.file.Label(), cfg.Radii)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("dem %q: %w", cfg.DEM, err)
	}

	a.log.Debug(ctx, "dem opened",
		logging.String("dem", cfg.DEM),
		logging.String("source", a.meta.Source),
		logging.String("label", a.meta.Label),
		logging.Float("scale", field.DemScale()),
	)

	a.env = &api.Env{
		DEM:     strings.TrimSuffix(cfg.DEM, ".json"),
		Surface: field,
		Shape:   cfg.ShapeConfig(a.log),
		Logger:  a.log,
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn(ctx, "store close failed", logging.Err(err))
		}
	}
	observability.ShutdownWithTimeout(ctx, a.shutdown, a.log)
}

// getConfigString gets a string value from flag, then env, then default
func getConfigString(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if cmd.Flags().Changed(flagName) {
		val, _ := cmd.Flags().GetString(flagName)
		return val
	}
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return defaultValue
}

// getConfigInt gets an int value from flag, then env, then default
func getConfigInt(cmd *cobra.Command, flagName, envName string, defaultValue int) int {
	if cmd.Flags().Changed(flagName) {
		val, _ := cmd.Flags().GetInt(flagName)
		return val
	}
	if v := os.Getenv(envName); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// getConfigFloat gets a float64 value from flag, then env, then default
func getConfigFloat(cmd *cobra.Command, flagName, envName string, defaultValue float64) float64 {
	if cmd.Flags().Changed(flagName) {
		val, _ := cmd.Flags().GetFloat64(flagName)
		return val
	}
	if v := os.Getenv(envName); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// parseFloats parses exactly n comma-separated floats.
func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
