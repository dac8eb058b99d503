// Package main is the entry point for the typserve language server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/typserve/internal/config"
	"github.com/dshills/typserve/internal/logging"
	"github.com/dshills/typserve/internal/protocol"
	"github.com/dshills/typserve/internal/server"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}
	if opts.listen != "" {
		cfg.Server.Listen = opts.listen
	}
	if opts.logLevel != "" {
		cfg.Server.LogLevel = opts.logLevel
	}

	// Logs go to stderr: stdout belongs to the protocol in stdio mode.
	log := logging.New(logging.Config{
		Level:  cfg.Server.LogLevel,
		JSON:   cfg.Server.LogJSON,
		Output: os.Stderr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	transport, err := openTransport(cfg.Server.Listen, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = transport.Close() }()

	srv, err := server.New(transport, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	log.Info("typserve starting", "version", version, "listen", cfg.Server.Listen)
	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		log.Error("server stopped", "error", err)
		return 1
	}
	return 0
}

// openTransport connects stdio, or accepts a single TCP client when a
// listen address is configured.
func openTransport(listen string, log *logging.Logger) (*protocol.Transport, error) {
	if listen == "" {
		return protocol.NewTransport(os.Stdin, os.Stdout, nil), nil
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", listen, err)
	}
	log.Info("waiting for client", "addr", listen)

	conn, err := ln.Accept()
	_ = ln.Close()
	if err != nil {
		return nil, fmt.Errorf("accept client: %w", err)
	}
	log.Info("client connected", "remote", conn.RemoteAddr().String())

	return protocol.NewTransport(conn, conn, conn), nil
}

type options struct {
	configPath string
	listen     string
	logLevel   string
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.listen, "listen", "", "TCP address to serve on (default stdio)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "typserve - Typst-style markup language server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: typserve [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  typserve                          Serve over stdio\n")
		fmt.Fprintf(os.Stderr, "  typserve -listen 127.0.0.1:9257   Serve one TCP client\n")
		fmt.Fprintf(os.Stderr, "  typserve -c typserve.toml         Load configuration\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("typserve %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}
	return opts
}
