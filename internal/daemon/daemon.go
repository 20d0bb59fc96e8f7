// Package daemon wires the gateway's components together and runs them
// under a context cancelled on SIGTERM/SIGINT, mirroring the signal
// handling this codebase has always used for its long-lived processes.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oliana-project/oliana/internal/config"
	"github.com/oliana-project/oliana/internal/diagcache"
	"github.com/oliana-project/oliana/internal/idle"
	"github.com/oliana-project/oliana/internal/rpcserver"
	"github.com/oliana-project/oliana/internal/supervisor"
)

// gracePeriod is how long Run waits after the first shutdown signal
// before returning, giving in-flight RPC handlers a chance to finish
// their current filesystem operation.
const gracePeriod = 500 * time.Millisecond

// Run starts the gateway and blocks until a shutdown signal arrives.
func Run(cfg *config.Config, log *slog.Logger) error {
	binDir, err := config.ResolveBinDir(cfg.BinDir)
	if err != nil {
		return fmt.Errorf("resolve bin dir: %w", err)
	}
	trackDir := config.ResolveTrackedProcDir(cfg.TrackedProcDir, binDir)

	imagesWorkdir := filepath.Join(trackDir, "image-processing")
	textWorkdir := filepath.Join(trackDir, "text-processing")
	if err := config.EnsureDir(imagesWorkdir); err != nil {
		return fmt.Errorf("create image workdir: %w", err)
	}
	if err := config.EnsureDir(textWorkdir); err != nil {
		return fmt.Errorf("create text workdir: %w", err)
	}

	applyPerProcMemFract(cfg.PerProcMemFract, log)

	sup := supervisor.New(log, binDir, trackDir)

	if cfg.RunLocalServer {
		sup.Register("oliana_images", []string{"--workdir", imagesWorkdir})
		sup.Register("oliana_text", []string{"--workdir", textWorkdir})
		if err := sup.EnsureAllRunning(); err != nil {
			log.Warn("initial ensure_all_running reported errors", "err", err)
		}
	} else {
		log.Info("RUN_LOCAL_SERVER is falsy, connect-only mode: not spawning local workers")
	}

	gw := rpcserver.New(log, sup, cfg.Port, textWorkdir, imagesWorkdir)

	cacheDir, err := config.DefaultCacheDir()
	if err != nil {
		return fmt.Errorf("resolve cache dir: %w", err)
	}
	cache, err := diagcache.New(cacheDir)
	if err != nil {
		return fmt.Errorf("create diagnostics cache: %w", err)
	}

	controller := idle.New(log, sup, gw, cache, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()
	go controller.Run(ctx)

	log.Info("gateway started", "port", cfg.Port, "bin_dir", binDir, "track_dir", trackDir)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
		cancel()
		time.Sleep(gracePeriod)
		return nil
	case err := <-errCh:
		cancel()
		return err
	}
}

// applyPerProcMemFract mirrors the original's environment setup: it only
// sets PER_PROC_MEM_FRACT for spawned children if the operator hasn't
// already exported one, so an externally-configured value always wins.
func applyPerProcMemFract(fract float64, log *slog.Logger) {
	if v := os.Getenv("PER_PROC_MEM_FRACT"); v != "" {
		log.Info("not overriding already-set PER_PROC_MEM_FRACT", "value", v)
		return
	}
	value := fmt.Sprintf("%.2f", fract)
	log.Info("setting PER_PROC_MEM_FRACT for child processes", "value", value)
	os.Setenv("PER_PROC_MEM_FRACT", value)
}
