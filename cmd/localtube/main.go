// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localtube/localtube/internal/catalog"
	"github.com/localtube/localtube/internal/config"
	"github.com/localtube/localtube/internal/extractor"
	"github.com/localtube/localtube/internal/gate"
	"github.com/localtube/localtube/internal/httpapi"
	"github.com/localtube/localtube/internal/log"
	"github.com/localtube/localtube/internal/registry"
	"github.com/localtube/localtube/internal/retry"
	"github.com/localtube/localtube/internal/scheduler"
	"github.com/localtube/localtube/internal/stream"
	"github.com/localtube/localtube/internal/vpn"
	"github.com/localtube/localtube/internal/worker"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// jobQueueDepth bounds the pending download/refresh job channels. A full
// queue drops the enqueue with a warning; the periodic sweep or the
// download retry picks the work up again later.
const jobQueueDepth = 256

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			os.Exit(runStatusCmd(os.Args[2:]))
		case "checkdb":
			os.Exit(runCheckDBCmd(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	env, err := config.ReadEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read environment: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{
		Level:   env.LogLevel,
		Format:  env.LogFormat,
		Service: "localtube",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, env); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, env config.Env) error {
	logger := log.WithComponent("daemon")

	ytdlpPath, err := checkDownloadDeps(logger)
	if err != nil {
		return err
	}

	for _, dir := range []string{env.MediaDir, filepath.Dir(env.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	db, err := catalog.Open(env.DBPath, env.YtdlpConcurrency)
	if err != nil {
		return err
	}
	defer db.Close()

	// A corrupt catalog must not limp along half-serving requests;
	// refuse to start and point the operator at `localtube checkdb`.
	if problems, err := catalog.CheckIntegrity(ctx, db, false); err != nil {
		return fmt.Errorf("catalog integrity check: %w", err)
	} else if len(problems) > 0 {
		return fmt.Errorf("catalog database is corrupt (%d problems, run `localtube checkdb -full`): %s",
			len(problems), problems[0])
	}

	if err := catalog.Migrate(db); err != nil {
		return err
	}
	store := catalog.New(db)

	reg := registry.New()
	g := gate.New(env.YtdlpConcurrency)
	facade := extractor.New(ytdlpPath, env.YtdlpDebug)

	downloadQueue := make(chan int64, jobQueueDepth)
	refreshQueue := make(chan int64, jobQueueDepth)

	enqueueDownload := func(mediaID int64) {
		select {
		case downloadQueue <- mediaID:
		default:
			logger.Warn().Int64(log.FieldMediaID, mediaID).Msg("download queue full, dropping enqueue")
		}
	}
	enqueueRefresh := func(sourceID int64) {
		select {
		case refreshQueue <- sourceID:
		default:
			logger.Warn().Int64(log.FieldSourceID, sourceID).Msg("refresh queue full, dropping enqueue")
		}
	}

	downloader := &worker.Downloader{
		Catalog:   store,
		Registry:  reg,
		Gate:      g,
		Extractor: facade,
		Retry:     retry.New(),
		MediaDir:  env.MediaDir,
	}
	refresher := &worker.Refresher{
		Catalog:   store,
		Registry:  reg,
		Gate:      g,
		Extractor: facade,
		MediaDir:  env.MediaDir,
		Enqueue:   enqueueDownload,
	}
	sched := &scheduler.Scheduler{
		Catalog: store,
		Enqueue: enqueueRefresh,
	}
	sup := &vpn.Supervisor{Registry: reg}

	var controller vpn.Controller
	if env.VPNEnabled() {
		controller = vpn.NewHTTPController(vpn.NormalizeControlAddr(env.GluetunControlAddr))
		sup.Activate(controller)
		defer sup.Deactivate()
		logger.Info().Msg("VPN supervisor activated")
	} else {
		logger.Info().Msg("no VPN control address configured, supervisor stays deactivated")
	}

	api := &httpapi.Server{
		Catalog:         store,
		Registry:        reg,
		Streamer:        &stream.Streamer{Catalog: store, MediaRoot: env.MediaDir},
		Downloader:      downloader,
		Scheduler:       sched,
		Supervisor:      sup,
		VPNController:   controller,
		EnqueueDownload: enqueueDownload,
	}
	httpServer := &http.Server{
		Addr:              env.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	watcher := &stream.Watcher{
		MediaRoot: env.MediaDir,
		OnRemoved: func(ctx context.Context, relPath string) {
			n, err := store.ClearMediaPathByPath(ctx, relPath)
			if err != nil {
				logger.Warn().Err(err).Str(log.FieldPath, relPath).Msg("clear vanished media path")
				return
			}
			if n > 0 {
				logger.Info().Str(log.FieldPath, relPath).Int64("rows", n).
					Msg("cleared media path for externally removed file")
			}
		},
	}

	group, ctx := errgroup.WithContext(ctx)

	// Job queue consumers, one per permit so the gate (not the queue) is
	// what bounds extractor concurrency. Worker errors are already
	// reported through the task registry; they never take the daemon down.
	for i := 0; i < env.YtdlpConcurrency; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case mediaID := <-downloadQueue:
					if err := downloader.Run(ctx, mediaID); err != nil {
						logger.Warn().Err(err).Int64(log.FieldMediaID, mediaID).Msg("download job")
					}
				}
			}
		})
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case sourceID := <-refreshQueue:
					if err := refresher.Run(ctx, sourceID); err != nil {
						logger.Warn().Err(err).Int64(log.FieldSourceID, sourceID).Msg("refresh job")
					}
				}
			}
		})
	}

	group.Go(func() error { return sched.Run(ctx) })

	group.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				reg.CleanupOld()
			}
		}
	})

	group.Go(func() error {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("media root watcher stopped")
		}
		return nil
	})

	group.Go(func() error {
		logger.Info().Str("addr", env.ListenAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
