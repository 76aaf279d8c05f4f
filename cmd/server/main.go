package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/timzhangherenow/product-contextualizer/internal/api"
	"github.com/timzhangherenow/product-contextualizer/internal/config"
	"github.com/timzhangherenow/product-contextualizer/internal/database"
	"github.com/timzhangherenow/product-contextualizer/internal/gemini"
	"github.com/timzhangherenow/product-contextualizer/internal/repository"
	"github.com/timzhangherenow/product-contextualizer/internal/service"
	"github.com/timzhangherenow/product-contextualizer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}
	if err := database.Seed(ctx, db, cfg); err != nil {
		log.Fatalf("database seed: %v", err)
	}

	userRepo := repository.NewUserRepository(db)

	userService := service.NewUserService(cfg, userRepo)
	ledgerService := service.NewLedgerService(userRepo)
	geminiClient := gemini.NewClient(cfg, logr)
	generationService := service.NewGenerationService(logr, ledgerService, geminiClient)

	server := api.NewServer(cfg, logr, userService, ledgerService, generationService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
