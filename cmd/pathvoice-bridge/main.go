// Command pathvoice-bridge serves voice sessions to browser tabs over a
// websocket, for deployments without the desktop shell.
//
// Usage:
//
//	pathvoice-bridge                      # listen on the configured address
//	pathvoice-bridge -config bridge.yaml  # use a specific config file
//	pathvoice-bridge -addr :9000          # override the listen address
//	pathvoice-bridge -version             # print version information
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pathvoice/internal/bootstrap"
	"pathvoice/internal/bridge"
	"pathvoice/internal/webspeech"
)

// Set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	addr := flag.String("addr", "", "listen address, overrides bridge.listen_addr")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pathvoice-bridge %s (%s)\n", Version, GitCommit)
		return
	}
	if *configPath != "" {
		if err := os.Setenv("PATHVOICE_CONFIG", *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "set config path: %v\n", err)
			os.Exit(1)
		}
	}

	if err := run(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "pathvoice-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string) error {
	rt, err := bootstrap.Load()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()

	cfg := rt.Config.Bridge
	if addr != "" {
		cfg.ListenAddr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := bridge.NewServer(cfg,
		func(bus webspeech.Bus) bridge.Session { return rt.NewSession(bus) },
		bridge.WithLogger(rt.Logger),
		bridge.WithRecorder(rt.Metrics),
		bridge.WithGatherer(rt.Registry),
	)

	rt.Logger.Info("starting bridge",
		zap.String("version", Version),
		zap.String("addr", cfg.ListenAddr),
		zap.String("engine", rt.Config.Recognition.Engine),
	)
	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}
	rt.Logger.Info("bridge stopped")
	return nil
}
