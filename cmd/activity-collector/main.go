// Command activity-collector receives activity batches over HTTP, and
// optionally from NATS, and stores them.
//
//	activity-collector -config collector.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/collector"
	"github.com/vinayprograms/activitykit/config"
	"github.com/vinayprograms/activitykit/credentials"
	"github.com/vinayprograms/activitykit/shutdown"
	"github.com/vinayprograms/activitykit/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "activity-collector:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "path to a TOML or YAML config file")
	secretsPath := flag.String("credentials", "", "path to credentials.toml (default: standard locations)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return err
		}
	}
	creds, _, err := credentials.Load(*secretsPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	logger = logger.WithComponent("activity-collector")

	cc := cfg.Collector
	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         cc.ShutdownTimeout.D(),
		ContinueOnError: true,
	}, logger)
	coord.RegisterFunc("log", shutdown.PhaseStorage+1, func(context.Context) error {
		return closeLog()
	})

	tracer := telemetry.NewNoopTracer()
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.InitProvider(context.Background(), cfg.Telemetry.ProviderConfig(version))
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		tracer = provider.Tracer()
		coord.RegisterFunc("telemetry", shutdown.PhaseStorage, provider.Shutdown)
	}

	store, err := collector.OpenStore(cc.Store, creds.CollectorDSN(cc.DSN))
	if err != nil {
		return fmt.Errorf("open %s store: %w", cc.Store, err)
	}
	coord.RegisterFunc("store", shutdown.PhaseStorage, func(context.Context) error {
		return store.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var nb *bus.NATSBus
	if cc.NATSURL != "" {
		auth := creds.NATSAuth()
		nc := bus.DefaultNATSConfig()
		nc.URL = cc.NATSURL
		nc.Name = "activity-collector"
		nc.Token, nc.User, nc.Password = auth.Token, auth.User, auth.Password
		nc.Logger = logger
		if nb, err = bus.NewNATSBus(nc); err != nil {
			return err
		}
	}

	var shared collector.SharedDedup
	if cc.DedupBucket != "" {
		kvCtx, kvCancel := context.WithTimeout(ctx, 10*time.Second)
		shared, err = collector.NewKVDedup(kvCtx, nb.Conn(), cc.DedupBucket, cc.DedupTTL.D())
		kvCancel()
		if err != nil {
			return err
		}
	}

	col, err := collector.New(collector.Config{
		MaxBodyBytes: cc.MaxBodyBytes,
		DedupTTL:     cc.DedupTTL.D(),
		DedupSize:    cc.DedupSize,
	}, collector.Options{
		Store:  store,
		Shared: shared,
		Logger: logger,
		Tracer: tracer,
	})
	if err != nil {
		return err
	}

	if nb != nil {
		consumeDone := make(chan struct{})
		go func() {
			defer close(consumeDone)
			if err := col.Consume(ctx, nb, cc.Subject, cc.QueueGroup); err != nil {
				logger.Error("bus ingest stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
		coord.RegisterFunc("nats", shutdown.PhaseIntake, func(ctx context.Context) error {
			cancel()
			select {
			case <-consumeDone:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nb.Close()
		})
	}

	httpServer := &http.Server{
		Addr:              cc.Listen,
		Handler:           col.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	coord.RegisterFunc("http", shutdown.PhaseIntake, httpServer.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]interface{}{
			"addr":  cc.Listen,
			"store": cc.Store,
			"bus":   cc.NATSURL != "",
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := coord.HandleSignals(context.Background())
	defer stop()

	select {
	case err := <-serveErr:
		coord.ShutdownWithTimeout(0)
		return err
	case <-coord.Done():
	}
	if res := coord.Result(); res != nil && res.Failed() {
		return res.Err
	}
	return nil
}
