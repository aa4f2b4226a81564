// Command mrpd is the MRP ring-redundancy daemon: it loads its
// configuration, brings up the bridge driver, the raw MRP transport, the
// rtnetlink link-event source, and the control socket mrpctl talks to,
// then runs until told to stop.
//
// Grounded on original_source/mrp_server.c's main() (getopt parsing,
// netlink_listen/server socket setup, the event loop that feeds frames,
// link events and CFM notifications into the state machines) and the
// teacher's cmd/doublezerod/main.go conventions: flag-parsed startup
// knobs, a JSON slog handler installed as the process default, a
// signal.NotifyContext-derived shutdown context, and an optional
// Prometheus metrics goroutine gated behind a flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ringmrp/mrpd/internal/mrp/cfm"
	"github.com/ringmrp/mrpd/internal/mrp/config"
	"github.com/ringmrp/mrpd/internal/mrp/ctlserver"
	"github.com/ringmrp/mrpd/internal/mrp/daemon"
	"github.com/ringmrp/mrpd/internal/mrp/driver"
	"github.com/ringmrp/mrpd/internal/mrp/eventbus"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/linkevent"
	"github.com/ringmrp/mrpd/internal/mrp/sched"
	"github.com/ringmrp/mrpd/internal/mrp/transport"
)

var (
	configPath    = flag.String("config", "/etc/mrpd/mrpd.json", "path to mrpd JSON configuration file")
	versionFlag   = flag.Bool("version", false, "print build version and exit")
	metricsEnable = flag.Bool("metrics-enable", false, "enable prometheus metrics listener (overrides config metrics_listen_addr being empty)")

	// set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("build: %s\n", commit)
		fmt.Printf("version: %s\n", version)
		fmt.Printf("date: %s\n", date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrpd: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	metricsAddr := cfg.MetricsListenAddr
	if *metricsEnable && metricsAddr == "" {
		metricsAddr = "localhost:0"
	}
	if metricsAddr != "" {
		buildInfo := promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mrpd_build_info",
			Help: "Build information of mrpd",
		}, []string{"version", "commit", "date"})
		buildInfo.WithLabelValues(version, commit, date).Set(1)

		go func() {
			listener, err := net.Listen("tcp", metricsAddr)
			if err != nil {
				logger.Error("failed to start prometheus metrics listener", "error", err)
				os.Exit(1)
			}
			http.Handle("/metrics", promhttp.Handler())
			logger.Info("prometheus metrics server started", "address", listener.Addr().String())
			if err := http.Serve(listener, nil); err != nil {
				log.Printf("prometheus metrics server stopped: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("mrpd exited with error", "error", err)
		os.Exit(1)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// run wires every collaborator the daemon needs and blocks until ctx is
// cancelled or a fatal component error occurs, mirroring the original
// daemon's single netlink_listen/CTL_listen event loop with one goroutine
// per event source instead.
func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	tr, err := transport.NewRawTransport()
	if err != nil {
		return fmt.Errorf("mrpd: open raw transport: %w", err)
	}
	defer tr.Close()

	var drv instance.Driver
	switch cfg.Driver {
	case config.DriverExec:
		execDrv, err := driver.NewExecDriver(driver.DefaultExecCommands(cfg.ExecCommandPath), logger)
		if err != nil {
			return fmt.Errorf("mrpd: init exec driver: %w", err)
		}
		defer execDrv.Close()
		drv = execDrv
	default:
		nlDrv, err := driver.NewNetlinkDriver()
		if err != nil {
			return fmt.Errorf("mrpd: init netlink driver: %w", err)
		}
		defer nlDrv.Close()
		drv = nlDrv
	}

	lsrc, err := linkevent.NewRTNetlinkSource()
	if err != nil {
		return fmt.Errorf("mrpd: open link-event source: %w", err)
	}
	defer lsrc.Close()

	var pub eventbus.Publisher = eventbus.Noop{}
	if cfg.EnableDBus {
		dbusPub, err := eventbus.NewDBusPublisher()
		if err != nil {
			logger.Warn("dbus publisher unavailable, port events not published", "error", err)
		} else {
			defer dbusPub.Close()
			pub = dbusPub
		}
	}

	// d is assigned below, after the scheduler that must reference its
	// TimerFired method; the handler closure defers the lookup until a
	// timer actually fires, by which point d is set.
	var d *daemon.Daemon
	scheduler := sched.New(logger, func(owner any, kind sched.Kind) { d.TimerFired(owner, kind) })
	scheduler.SetTimeFactor(int64(cfg.TimeFactor))
	reg := instance.NewRegistry(scheduler)
	env := instance.Env{Transport: tr, Driver: drv, Sched: scheduler}

	d = daemon.New(reg, env, pub, daemon.NetInterfaceResolver{}, daemon.WithLogger(logger))

	srv := ctlserver.New(d, ctlserver.WithSockAddr(cfg.ControlSockAddr), ctlserver.WithLogger(logger))
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("mrpd: listen on control socket: %w", err)
	}
	defer srv.Close()

	var cfmSrc cfm.Source = &cfm.StaticSource{}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return tr.Run(ctx, d.HandleFrame) })
	g.Go(func() error { return lsrc.Run(ctx, d.HandleLinkEvent) })
	g.Go(func() error { return cfmSrc.Run(ctx, d.HandleCFMEvent) })
	g.Go(func() error { return srv.Run(ctx) })

	logger.Info("mrpd started",
		"driver", cfg.Driver,
		"control_sock_addr", cfg.ControlSockAddr,
		"time_factor", cfg.TimeFactor,
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
