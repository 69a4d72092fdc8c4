package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "appmgrd: %v\n", err)
		os.Exit(2)
	}

	// Flags override the environment.
	flag.StringVar(&cfg.Server.HTTPAddr, "http", cfg.Server.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.Server.GRPCAddr, "grpc", cfg.Server.GRPCAddr, "gRPC listen address")
	flag.StringVar(&cfg.Host.Profile, "profile", cfg.Host.Profile, "Host profile (TOML)")
	flag.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.BoolVar(&cfg.Host.ControlEnabled, "host-control", cfg.Host.ControlEnabled, "Enable /v1/host endpoints")
	flag.BoolVar(&cfg.Host.MirrorEnabled, "mirror", cfg.Host.MirrorEnabled, "Mirror OS processes of catalogued bundles")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "appmgrd: %v\n", err)
		os.Exit(2)
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logCfg.Fields = map[string]string{"service": "appmgrd"}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "appmgrd: %v\n", err)
		os.Exit(2)
	}

	profile, err := config.LoadProfile(cfg.Host.Profile)
	if err != nil {
		logger.Fatal("Failed to load host profile", zap.String("path", cfg.Host.Profile), zap.Error(err))
	}

	srv, err := server.New(cfg, profile, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
