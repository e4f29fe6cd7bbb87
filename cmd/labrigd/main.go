// Command labrigd hosts the lab devices of one machine and serves them to
// remote proxies.
//
// Usage:
//
//	labrigd [flags]
//
// Flags:
//
//	-config string        Configuration file (default "/etc/labrig/labrig.yaml")
//	-log-level string     Overrides logging.level
//	-protocol-log string  Overrides logging.protocol_log
//	-kinds                Print the known device kinds and exit
//
// Examples:
//
//	# Serve the devices in a config file
//	labrigd -config bench.yaml
//
//	# Capture all protocol traffic for labrig-log
//	labrigd -config bench.yaml -protocol-log /var/log/labrig/server.lrlog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/labrig/labrig-go/pkg/config"
	"github.com/labrig/labrig-go/pkg/host"
	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/registry"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "labrigd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("labrigd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "/etc/labrig/labrig.yaml", "Configuration file")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	protocolLog := fs.String("protocol-log", "", "Protocol capture file")
	listKinds := fs.Bool("kinds", false, "Print the known device kinds and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := registry.Builtin()
	if *listKinds {
		for _, k := range reg.Kinds() {
			fmt.Fprintln(stderr, k)
		}
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Logging.ProtocolLog = *protocolLog
	}

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	opts := host.Options{Config: cfg, Registry: reg, Logger: logger}
	if path := cfg.Logging.ProtocolLog; path != "" {
		capture, err := log.NewFileLogger(path)
		if err != nil {
			return err
		}
		defer func() {
			if n := capture.Failed(); n > 0 {
				logger.Warn("protocol events lost", "count", n)
			}
			capture.Close()
		}()
		opts.ProtocolLogger = capture
		logger.Info("capturing protocol events", "path", capture.Path())
	}

	h, err := host.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return h.Run(ctx)
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
