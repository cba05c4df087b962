package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/config"
	"github.com/aerotrace/material-lifecycle/internal/container"
	httpapi "github.com/aerotrace/material-lifecycle/internal/interfaces/http"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	containerCfg, err := cfg.ToContainerConfig()
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}

	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	services := c.Services()
	server := httpapi.NewServer(
		httpapi.ServerConfig{
			Addr:            containerCfg.Server.Addr(),
			ReadTimeout:     containerCfg.Server.ReadTimeout,
			WriteTimeout:    containerCfg.Server.WriteTimeout,
			ShutdownTimeout: containerCfg.Server.ShutdownTimeout,
			Mode:            containerCfg.Server.Mode,
		},
		httpapi.Services{
			Procurement:  services.Procurement,
			Approval:     services.Approval,
			Material:     services.Material,
			Traceability: services.Traceability,
			Audit:        services.Audit,
			Engine:       c.Engine(),
			Authorizer:   c.Authorizer(),
		},
		httpapi.NewTokenVerifier(containerCfg.Auth.JWTSecret, containerCfg.Auth.Issuer),
		func() bool { return c.Health().Overall },
		utils.NewSugaredAdapter(logger),
	)

	logger.Info("Material lifecycle service started", zap.String("address", containerCfg.Server.Addr()))
	return server.Start(ctx)
}
