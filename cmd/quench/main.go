// Command quench runs a filtering DNS forwarder: queries for names on the
// block-list are answered locally with a sinkhole address, everything else
// is forwarded to the configured recursive resolver.
//
// Exit codes:
//
//	0  graceful shutdown
//	1  bind failure (or any other startup error)
//	2  seed block-list could not be loaded
//	3  worker panic after the shutdown grace period
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quench-dns/quench/internal/config"
	"github.com/quench-dns/quench/internal/dispatch"
	"github.com/quench-dns/quench/internal/logging"
)

func main() {
	os.Exit(run())
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath      string
	port            int
	routerAddr      string
	dbDir           string
	refreshInterval string
	upstreamURL     string
	maxInFlight     int
	workers         int
	seed            string
	jsonLogs        bool
	debug           bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.IntVar(&f.port, "port", 0, "Client-facing UDP port (default 8080)")
	flag.StringVar(&f.routerAddr, "router-addr", "", "Upstream resolver host:port")
	flag.StringVar(&f.dbDir, "db-dir", "", "Directory for the seed list, snapshots, and history")
	flag.StringVar(&f.refreshInterval, "refresh-interval", "", "Block-list refresh interval, e.g. 168h")
	flag.StringVar(&f.upstreamURL, "upstream-url", "", "Block-list download URL")
	flag.IntVar(&f.maxInFlight, "max-in-flight", 0, "Per-worker bound on concurrent datagram tasks")
	flag.IntVar(&f.workers, "workers", 0, "Listener worker pairs (default: CPU count)")
	flag.StringVar(&f.seed, "seed", "", "Seed block-list file (default: <db-dir>/init.txt)")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

// applyCLIOverrides layers flag values over the loaded config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.routerAddr != "" {
		cfg.Upstream.Addr = f.routerAddr
	}
	if f.dbDir != "" {
		cfg.Blocklist.DBDir = f.dbDir
	}
	if f.refreshInterval != "" {
		cfg.Blocklist.RefreshInterval = f.refreshInterval
	}
	if f.upstreamURL != "" {
		cfg.Blocklist.URL = f.upstreamURL
	}
	if f.maxInFlight != 0 {
		cfg.Server.MaxInFlight = f.maxInFlight
	}
	if f.workers != 0 {
		cfg.Server.Workers = f.workers
	}
	if f.seed != "" {
		cfg.Blocklist.SeedFile = f.seed
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() int {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quench: %v\n", err)
		return 1
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
	})
	logger.Info("quench starting",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.Addr,
		"db_dir", cfg.Blocklist.DBDir,
		"blocklist_url", cfg.Blocklist.URL,
		"refresh_interval", cfg.RefreshInterval(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = dispatch.NewRunner(logger).Run(ctx, cfg)
	if err != nil {
		logger.Error("quench exited", "err", err, "code", dispatch.ExitCode(err))
		return dispatch.ExitCode(err)
	}
	logger.Info("quench stopped")
	return dispatch.ExitOK
}
