// Command pathfinderd is the server binary: it loads configuration, wires
// up logging/metrics/health/admin, binds every configured domain's
// listeners, and serves until signaled. Startup order is config, then
// logger, then cleaner, then the accept loop; shutdown is driven entirely
// by event.Cleaner.Init's own signal handling rather than an explicit
// Clean() call.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pathfinderd/pathfinder/internal/admin"
	"github.com/pathfinderd/pathfinder/internal/config"
	"github.com/pathfinderd/pathfinder/internal/event"
	"github.com/pathfinderd/pathfinder/internal/health"
	"github.com/pathfinderd/pathfinder/internal/logger"
	"github.com/pathfinderd/pathfinder/internal/metrics"
	"github.com/pathfinderd/pathfinder/internal/server"
)

// version is stamped at release time; "dev" for local builds.
var version = "dev"

// exitCode carries serve's fatal-error signal back out of cobra's
// RunE, whose own non-zero-exit convention cobra does not expose directly.
var exitCode int

type options struct {
	configFile  string
	multiSocket bool
	console     bool
	noSyslog    bool
	logFacility string
	logLevel    string
	maxClients  int64
	metricsAddr string
	adminAddr   string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options

	cmd := &cobra.Command{
		Use:           "pathfinderd [address...]",
		Short:         "In-memory service discovery directory server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(args, opts)
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("pathfinderd %s\n", version))

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "file", "f", "", "configuration file path")
	flags.BoolVarP(&opts.multiSocket, "multi", "m", false, "treat each '+'-joined address group as one multi-socket domain")
	flags.BoolVarP(&opts.console, "stdout", "s", true, "enable console logging")
	flags.BoolVarP(&opts.noSyslog, "no-syslog", "n", false, "disable syslog logging")
	flags.StringP("log-file", "o", "", "file log target directory (unused: logger writes under ./logs)")
	flags.IntP("rotate-days", "b", 30, "log retention, in days (unused: log files older than 30 days are removed at startup)")
	flags.BoolP("rotate-size", "x", false, "rotate by size rather than by day (unused: the log file opened at startup is never rotated)")
	flags.StringVarP(&opts.logFacility, "facility", "y", "daemon", "syslog facility")
	flags.StringVarP(&opts.logLevel, "level", "l", "info", "log level (debug, info, warn, error)")
	flags.Int64VarP(&opts.maxClients, "max-clients", "c", 0, "maximum total clients (0 = unlimited)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	flags.StringVar(&opts.adminAddr, "admin-addr", "", "gRPC introspection listen address (empty disables)")
	_ = flags.MarkHidden("log-file")
	_ = flags.MarkHidden("rotate-days")
	_ = flags.MarkHidden("rotate-size")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func serve(addrs []string, opts options) error {
	cfg := config.Default()
	if opts.configFile != "" {
		loaded, err := config.Load(opts.configFile)
		if err != nil {
			exitCode = 1
			return err
		}
		cfg = loaded
	}

	cfg.Log.Console = opts.console
	if opts.noSyslog {
		cfg.Log.Syslog = false
	}
	if opts.logFacility != "" {
		cfg.Log.Facility = opts.logFacility
	}
	if opts.logLevel != "" {
		cfg.Log.Filter = opts.logLevel
	}
	if opts.maxClients > 0 {
		cfg.Resources.Total.Clients = &opts.maxClients
	}

	shutdown := logger.Init(cfg.Log)
	logger.InfoF("pathfinderd %s starting", version)

	var domains []server.DomainConfig
	if len(addrs) > 0 {
		domains = config.DomainsFromAddrs(addrs, opts.multiSocket)
	} else {
		built, err := config.BuildDomains(cfg)
		if err != nil {
			exitCode = 1
			return err
		}
		domains = built
	}
	if len(domains) == 0 {
		exitCode = 1
		return fmt.Errorf("no listener addresses given on the command line and none configured in %q", opts.configFile)
	}

	srv, err := server.New(domains)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("binding listeners: %w", err)
	}

	cleaner := event.NewCleaner()
	cleaner.Init(shutdown)

	named := srv.Domains()

	if opts.metricsAddr != "" {
		registries := make(map[string]*metrics.Registry, len(named))
		for name, dom := range named {
			r := metrics.NewRegistry(name)
			r.Observe(dom)
			registries[name] = r
		}
		if metricsSrv, err := metrics.Serve(opts.metricsAddr, registries); err != nil {
			logger.ErrorF("metrics: failed to start: %v", err)
		} else {
			cleaner.Add(metricsSrv)
		}
	}

	if opts.adminAddr != "" {
		adminSvc := admin.NewService(named)
		if _, err := adminSvc.Serve(opts.adminAddr); err != nil {
			logger.ErrorF("admin: failed to start: %v", err)
		} else {
			cleaner.Add(adminSvc)
		}
	}

	if sampler, err := health.Start(); err != nil {
		logger.WarnF("health: failed to start sampler: %v", err)
	} else {
		cleaner.Add(sampler)
	}

	logger.InfoF("%d domain(s) bound, accepting connections", len(domains))
	if opts.maxClients > 0 {
		logger.InfoF("max total clients: %s", humanize.Comma(opts.maxClients))
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.ErrorF("server stopped: %v", err)
		exitCode = 1
		return err
	}
	return nil
}
