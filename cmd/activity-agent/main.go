// Command activity-agent serves the page channel and forwards the pages'
// activity to the collector.
//
//	activity-agent -config agent.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/vinayprograms/activitykit/agent"
	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/config"
	"github.com/vinayprograms/activitykit/credentials"
	"github.com/vinayprograms/activitykit/delivery"
	"github.com/vinayprograms/activitykit/logging"
	"github.com/vinayprograms/activitykit/shutdown"
	"github.com/vinayprograms/activitykit/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "activity-agent:", err)
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
	logger = logger.WithComponent("activity-agent")

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         cfg.Agent.ShutdownTimeout.D(),
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

	var msgBus bus.MessageBus
	if cfg.Agent.NATSURL != "" {
		auth := creds.NATSAuth()
		nc := bus.DefaultNATSConfig()
		nc.URL = cfg.Agent.NATSURL
		nc.Name = "activity-agent"
		nc.Token, nc.User, nc.Password = auth.Token, auth.User, auth.Password
		nc.Logger = logger
		nb, err := bus.NewNATSBus(nc)
		if err != nil {
			return err
		}
		msgBus = nb
		coord.RegisterFunc("nats", shutdown.PhaseDelivery, func(context.Context) error {
			return nb.Close()
		})
	}

	sender, beacon, err := buildDelivery(cfg.Agent, creds, msgBus, logger, coord)
	if err != nil {
		return err
	}

	ac := agent.DefaultConfig()
	ac.Path = cfg.Agent.Path
	ac.AllowedOrigins = cfg.Agent.AllowedOrigins
	ac.Tracker = cfg.Tracker.ActivityConfig()

	srv, err := agent.New(ac, agent.Options{
		Sender: sender,
		Beacon: beacon,
		Logger: logger,
		Tracer: tracer,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Agent.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	coord.RegisterFunc("http", shutdown.PhaseIntake, httpServer.Shutdown)
	coord.RegisterFunc("sessions", shutdown.PhaseSessions, srv.CloseSessions)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]interface{}{
			"addr":     cfg.Agent.Listen,
			"path":     ac.Path,
			"protocol": cfg.Agent.Protocol,
			"endpoint": cfg.Agent.Endpoint,
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

// buildDelivery creates the standard sender and the reliable-path beacon
// the agent config selects.
func buildDelivery(cfg config.Agent, creds *credentials.Credentials, b bus.MessageBus, logger *logging.Logger, coord *shutdown.Coordinator) (delivery.Sender, delivery.Beacon, error) {
	var sender delivery.Sender
	var httpSender *delivery.HTTPSender

	switch cfg.Protocol {
	case "http", "https", "":
		hc := delivery.DefaultHTTPConfig()
		hc.Endpoint = cfg.Endpoint
		hc.Timeout = cfg.Timeout.D()
		hc.UserAgent = "activity-agent/" + version
		hc.Headers = creds.AuthHeaders(cfg.Headers)
		s, err := delivery.NewHTTPSender(hc)
		if err != nil {
			return nil, nil, err
		}
		sender, httpSender = s, s
	default:
		s, err := delivery.NewSender(cfg.Protocol, cfg.Endpoint, b)
		if err != nil {
			return nil, nil, err
		}
		if fs, ok := s.(*delivery.FileSender); ok {
			coord.RegisterFunc("file", shutdown.PhaseStorage, func(context.Context) error {
				return fs.Close()
			})
		}
		sender = s
	}

	switch cfg.Beacon {
	case "http":
		if httpSender == nil {
			return nil, nil, fmt.Errorf("http beacon needs an http sender")
		}
		beacon := delivery.NewHTTPBeacon(httpSender, cfg.BeaconTimeout.D())
		beaconLog := logger.WithComponent("beacon")
		beacon.OnDone = func(p delivery.Payload, err error) {
			if err != nil {
				beaconLog.Warn("beacon delivery failed", map[string]interface{}{
					"batch":  p.ID,
					"events": p.Events,
					"error":  err.Error(),
				})
			}
		}
		coord.RegisterFunc("beacon", shutdown.PhaseDelivery, beacon.Close)
		return sender, beacon, nil
	case "bus":
		subject := bus.DefaultSubject
		if cfg.Protocol == "bus" && cfg.Endpoint != "" {
			subject = cfg.Endpoint
		}
		return sender, delivery.NewBusSender(b, subject), nil
	default:
		return sender, nil, nil
	}
}
