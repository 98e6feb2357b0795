package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/pastor-macsagun/drouple-sync/pkg/config"
	"github.com/pastor-macsagun/drouple-sync/pkg/db"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
	"github.com/pastor-macsagun/drouple-sync/pkg/migrate"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx = logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	store := db.New(cfg.Store, logg)
	requireResource(ctx, logg, "local store", store.Init(ctx))
	defer store.Close()

	sqlDB, err := store.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	switch *cmd {
	case "version":
		version, err := migrate.Version(ctx, sqlDB)
		requireResource(ctx, logg, "migration version", err)
		fmt.Println("schema version:", version)
	default:
		requireResource(ctx, logg, "migration run", migrate.Run(ctx, sqlDB, *cmd))
		logg.Info(ctx, "migration command complete")
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err != nil {
		logg.Error(ctx, "failed to prepare "+name, err)
		os.Exit(1)
	}
}
