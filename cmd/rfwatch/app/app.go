// Package app wires the engine's sessions together: device capture,
// signal processing, persistence and metrics, driven by one YAML
// configuration file.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rfwatch/rfwatch/internal/metrics"
	"github.com/rfwatch/rfwatch/internal/sdr"
	"github.com/rfwatch/rfwatch/internal/storage"
)

const (
	storageDir      = "data"
	shutdownTimeout = 5 * time.Second
	readTimeout     = time.Second
)

// Run executes the configured session until ctx is cancelled or the
// session fails.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	m := metrics.New()
	if config.Metrics.Listen != "" {
		serveMetrics(ctx, config.Metrics.Listen, m, logger)
	}

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	registry := sdr.NewRegistry()

	switch {
	case config.Monitor != nil:
		return runMonitor(ctx, config, registry, store, m, logger)
	case config.Demod != nil:
		return runDemod(ctx, config, registry, store, m, logger)
	case config.ADSB != nil:
		return runADSB(ctx, config, registry, store, m, logger)
	case config.Sweep != nil:
		return runSweep(ctx, config, registry, store, m, logger)
	}
	return errors.New("no session configured")
}

func serveMetrics(ctx context.Context, listen string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: listen, Handler: mux}

	go func() {
		logger.Info("metrics endpoint listening", slog.String("addr", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// captureMeter folds the capture source's cumulative drop and restart
// counters into the shared metrics, adding only what is new since the
// previous observation.
type captureMeter struct {
	dropped  uint64
	restarts uint64
}

func (cm *captureMeter) observe(dropped, restarts uint64, m *metrics.Metrics) {
	if dropped > cm.dropped {
		m.BlocksDropped.Add(float64(dropped - cm.dropped))
		cm.dropped = dropped
	}
	if restarts > cm.restarts {
		m.DeviceRestarts.Add(float64(restarts - cm.restarts))
		cm.restarts = restarts
	}
}

func createStorage(config *StorageConfig) (*storage.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	var dbPath string
	if config.DataDirectory != "" {
		dbPath = filepath.Join(wd, config.DataDirectory)
	} else {
		dbPath = filepath.Join(wd, storageDir)
	}

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dbPath, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	dbPath = filepath.Join(dbPath, fmt.Sprintf("rfwatch_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.New(dbPath), nil
}
