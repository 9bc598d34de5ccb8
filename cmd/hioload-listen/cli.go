//go:build unix

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/control"
	"github.com/momentics/hioload-listen/internal/echo"
	"github.com/momentics/hioload-listen/internal/logging"
	"github.com/momentics/hioload-listen/reactor"
	"github.com/momentics/hioload-listen/server"
)

var flags struct {
	config   string
	unix     []string
	ipv4     []string
	logLevel string
	cpu      int
}

var rootCmd = &cobra.Command{
	Use:          "hioload-listen",
	Short:        "Serve echo connections on Unix-domain and IPv4 listeners from one reactor",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	fs := rootCmd.Flags()
	fs.StringVarP(&flags.config, "config", "c", "", "YAML configuration file")
	fs.StringArrayVar(&flags.unix, "unix", nil, "Unix-domain socket path to listen on (repeatable)")
	fs.StringArrayVar(&flags.ipv4, "ipv4", nil, "IPv4 address:port to listen on (repeatable)")
	fs.StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	fs.IntVar(&flags.cpu, "cpu", -1, "pin the reactor to this CPU")
}

// loadConfig reads the config file if given and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*control.Config, error) {
	cfg := control.DefaultConfig()
	if flags.config != "" {
		var err error
		if cfg, err = control.LoadConfig(flags.config); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("unix") {
		cfg.Listen.Unix = flags.unix
	}
	if cmd.Flags().Changed("ipv4") {
		cfg.Listen.IPv4 = flags.ipv4
	}
	if cmd.Flags().Changed("cpu") {
		cfg.Reactor.CPU = flags.cpu
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Listen.Unix)+len(cfg.Listen.IPv4) == 0 {
		return nil, errors.New("no listen address configured; use --unix, --ipv4 or a config file")
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *control.Config) error {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	r, err := reactor.New(
		reactor.WithLogger(log.Named("reactor")),
		reactor.WithMaxEvents(cfg.Reactor.MaxEvents),
		reactor.WithPollInterval(cfg.Reactor.PollInterval),
		reactor.WithCPU(cfg.Reactor.CPU),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	metrics := control.NewMetricsRegistry()
	handler := echo.NewHandler(log.Named("echo"))
	opts := []server.Option{
		server.WithLogger(log.Named("server")),
		server.WithMetrics(metrics),
	}

	addrs, err := addresses(cfg.Listen)
	if err != nil {
		return err
	}
	var endpoints []*server.SocketServer
	defer func() {
		for _, s := range endpoints {
			s.Close()
		}
	}()
	for _, addr := range addrs {
		s, err := server.New(r, addr, opts...)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		s.SetHandler(handler, nil)
		endpoints = append(endpoints, s)
		log.Info("listening", zap.Stringer("addr", addr), zap.Int("fd", s.Fd()))
	}

	err = r.Run(ctx)
	log.Info("shutting down",
		zap.Any("metrics", metrics.GetSnapshot()),
		zap.Int("served", handler.Served()),
		zap.Int("live", handler.Live()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func addresses(lc control.ListenConfig) ([]server.Address, error) {
	out := make([]server.Address, 0, len(lc.Unix)+len(lc.IPv4))
	for _, p := range lc.Unix {
		out = append(out, server.UnixPath(p))
	}
	for _, s := range lc.IPv4 {
		ap, err := control.ParseIPv4AddrPort(s)
		if err != nil {
			return nil, err
		}
		a, err := server.IPv4FromAddrPort(ap)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
