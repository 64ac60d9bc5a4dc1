// Command test-probe serves the Test-Probe REST API: it bootstraps the
// configured Storage/Vault/Broker/Codec ports, starts the Guardian-
// supervised Queue Scheduler and retention sweep, and serves the HTTP
// boundary until signaled to exit.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/test-probe/internal/api"
	"github.com/estuary/test-probe/internal/config"
	"github.com/estuary/test-probe/internal/execution"
	"github.com/estuary/test-probe/internal/guardian"
	"github.com/estuary/test-probe/internal/ports"
	"github.com/estuary/test-probe/internal/retention"
	"github.com/estuary/test-probe/internal/scheduler"
)

func main() {
	cfg := config.Default()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.WithError(err).Fatal("parsing configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("test-probe exited with an error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	p, err := ports.Build(ctx, ports.Settings{
		StorageProvider:     cfg.Storage.Provider,
		ScratchBase:         cfg.Storage.ScratchBase,
		VaultProvider:       cfg.Vault.Provider,
		VaultLocalFile:      cfg.Vault.LocalFile,
		VaultMountPrefix:    cfg.Vault.MountPrefix,
		VaultNamePrefix:     cfg.Vault.NamePrefix,
		VaultRequiredFields: cfg.Vault.RequiredFields,
		SchemaBackend:       cfg.Schema.Backend,
		SchemaRegistryURL:   cfg.Schema.RegistryURL,
	})
	if err != nil {
		return err
	}

	execCfg := execution.Config{
		ManifestRelativePath:    cfg.Manifest.RelativePath,
		FeaturesRelativePath:    cfg.Features.RelativePath,
		DefaultBootstrapServers: cfg.Broker.DefaultBootstrapServers,
		AskTimeout:              cfg.Queue.AskTimeout,
		StartupDeadline:         cfg.Queue.StartupDeadline,
		CommitBatchSize:         cfg.Broker.CommitBatchSize,
		CommitInterval:          cfg.Broker.CommitInterval,
	}

	sched := scheduler.New(cfg.Queue.MaxConcurrent, p, execCfg, nil, cfg.Queue.AskTimeout)

	g := guardian.New(sched, cfg.Guardian.MaxRestarts, cfg.Guardian.Window)
	go g.Initialize(ctx)

	sweeper, err := retention.New(sched, cfg.Queue.RetentionSweep, cfg.Queue.Retention, cfg.Queue.AskTimeout)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop(context.Background())

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(sched).Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("test-probe listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case err := <-g.Done():
		log.WithError(err).Error("guardian exhausted its restart budget")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error shutting down HTTP server")
	}
	return nil
}
