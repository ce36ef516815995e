package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/superdash/superdash/internal/aggregator"
	"github.com/superdash/superdash/internal/casparcg"
	"github.com/superdash/superdash/internal/config"
	"github.com/superdash/superdash/internal/device"
	"github.com/superdash/superdash/internal/emberplus"
	internalhttp "github.com/superdash/superdash/internal/http"
	"github.com/superdash/superdash/internal/http/handlers"
	"github.com/superdash/superdash/internal/hyperdeck"
	"github.com/superdash/superdash/internal/metrics"
	"github.com/superdash/superdash/internal/observability"
	"github.com/superdash/superdash/internal/report"
	"github.com/superdash/superdash/internal/service/logs"
	"github.com/superdash/superdash/internal/tslumd"
	"github.com/superdash/superdash/internal/version"
	"github.com/superdash/superdash/internal/vmix"
	"github.com/superdash/superdash/internal/ws"
)

// tslRefreshInterval paces the round-robin UMD refresh.
const tslRefreshInterval = 200 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the superdash aggregator",
	Long: `Start the aggregator: connect to every configured playout device,
serve the dashboard WebSocket and REST API, provide the Ember+ tree,
and send TSL UMD tallies.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// protocolClient is the shared lifecycle of the per-device clients.
type protocolClient interface {
	Stop()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Wrap the default handler so the dashboard sees recent logs.
	logsService := logs.New()
	slog.SetDefault(slog.New(logsService.WrapHandler(slog.Default().Handler())))
	logger := slog.Default()

	logger.Info("starting superdash",
		slog.String("version", version.Version),
		slog.Int("devices", len(cfg.Servers)),
	)

	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Fan-out surfaces come up before the aggregator so no applied
	// event is lost to a nil sink. A bind failure disables the surface
	// but never the aggregator.
	var surfaces []protocolClient
	ember := emberplus.NewProvider(emberplus.Config{
		Host:    cfg.Settings.EmberPlusHost,
		Port:    cfg.Settings.EmberPlusPort,
		Version: version.Version,
	}, observability.WithComponent(logger, "emberplus"))
	var emberSink aggregator.EmberUpdater
	if err := ember.Start(ctx, cfg.Servers); err != nil {
		logger.Error("ember+ provider disabled", slog.String("error", err.Error()))
	} else {
		emberSink = ember
		surfaces = append(surfaces, ember)
	}

	destinations := make([]tslumd.Destination, 0, len(cfg.Settings.TSLUMDDestinations))
	for _, d := range cfg.Settings.TSLUMDDestinations {
		destinations = append(destinations, tslumd.Destination{Host: d.Host, Port: d.Port})
	}
	tsl := tslumd.NewSender(cfg.Settings.TSLUMDScreen, destinations, tslRefreshInterval,
		observability.WithComponent(logger, "tslumd"))
	tsl.SetPacketHook(m.TSLPacketSent)
	var tslSink aggregator.UMDUpdater
	if err := tsl.Start(ctx); err != nil {
		logger.Error("tsl umd sender disabled", slog.String("error", err.Error()))
	} else {
		tslSink = tsl
		surfaces = append(surfaces, tsl)
	}

	agg := aggregator.New(cfg.Servers, emberSink, tslSink, m,
		observability.WithComponent(logger, "aggregator"))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		agg.Run(groupCtx)
		return nil
	})

	// Protocol clients. CasparCG devices share one UDP listener per
	// local port; the listener binds lazily on first registration.
	clients, listeners, err := startClients(groupCtx, cfg, agg.Events(), logger)
	if err != nil {
		stopInOrder(nil, nil, surfaces)
		cancel()
		group.Wait()
		return err
	}
	// Safety net for error paths below; every Stop is idempotent.
	defer stopInOrder(clients, listeners, surfaces)

	go func() {
		select {
		case <-groupCtx.Done():
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			// Clients die first so their reconnect timers and
			// connections are gone before the fan-out surfaces stop;
			// only then the servers are torn down.
			stopInOrder(clients, listeners, surfaces)
			cancel()
		}
	}()

	// WebSocket fan-out.
	hub := ws.NewHub(m, observability.WithComponent(logger, "ws"))
	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})
	wsServer := ws.NewServer(cfg, agg, hub, m, observability.WithComponent(logger, "ws"))
	group.Go(func() error {
		return wsServer.Start(groupCtx)
	})

	// REST/health HTTP server.
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	server := internalhttp.NewServer(serverConfig,
		observability.WithComponent(logger, "http"), version.Version)

	handlers.NewHealthHandler(version.Version, agg).Register(server.API())
	handlers.NewDevicesHandler(agg).Register(server.API())
	handlers.NewConfigHandler(cfg).Register(server.API())
	handlers.NewLogsHandler(logsService).Register(server.API())
	server.Router().Handle("/metrics", m.Handler())
	handlers.NewStaticHandler(cfg.HTTP.StaticDir,
		observability.WithComponent(logger, "http")).Register(server.Router())

	group.Go(func() error {
		return server.ListenAndServe(groupCtx)
	})

	// Optional availability report.
	if cfg.Report.Enabled {
		reporter, err := report.New(cfg.Report.Cron, agg,
			observability.WithComponent(logger, "report"))
		if err != nil {
			cancel()
			group.Wait()
			return err
		}
		group.Go(func() error {
			reporter.Run(groupCtx)
			return nil
		})
	}

	return group.Wait()
}

// stopInOrder shuts the ingest side down before the fan-out side:
// protocol clients first, then their shared listeners, then the
// Ember+ provider and TSL sender.
func stopInOrder(clients []protocolClient, listeners map[int]*casparcg.Listener, surfaces []protocolClient) {
	for _, c := range clients {
		c.Stop()
	}
	for _, l := range listeners {
		l.Close()
	}
	for _, s := range surfaces {
		s.Stop()
	}
}

// startClients creates and starts one protocol client per configured
// device, sharing CasparCG listeners by local port.
func startClients(ctx context.Context, cfg *config.Config, events chan<- device.Event, logger *slog.Logger) ([]protocolClient, map[int]*casparcg.Listener, error) {
	clients := make([]protocolClient, 0, len(cfg.Servers))
	listeners := make(map[int]*casparcg.Listener)
	pollInterval := time.Duration(cfg.Settings.VMixPollIntervalMs) * time.Millisecond
	staleTimeout := time.Duration(cfg.Settings.CasparCGStaleTimeoutMs) * time.Millisecond

	for _, srv := range cfg.Servers {
		switch srv.Type {
		case device.TypeHyperDeck:
			c := hyperdeck.New(srv, events, observability.WithComponent(logger, "hyperdeck"))
			c.Start(ctx)
			clients = append(clients, c)

		case device.TypeVMix:
			c := vmix.New(srv, pollInterval, events, observability.WithComponent(logger, "vmix"))
			c.Start(ctx)
			clients = append(clients, c)

		case device.TypeCasparCG:
			listener, ok := listeners[srv.Port]
			if !ok {
				listener = casparcg.NewListener(srv.Port,
					observability.WithComponent(logger, "casparcg"))
				listeners[srv.Port] = listener
			}
			c := casparcg.New(srv, listener, staleTimeout, events,
				observability.WithComponent(logger, "casparcg"))
			if err := c.Start(ctx); err != nil {
				stopInOrder(clients, listeners, nil)
				return nil, nil, err
			}
			clients = append(clients, c)
		}
	}
	return clients, listeners, nil
}
