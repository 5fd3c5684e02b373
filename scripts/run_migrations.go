package main

import (
	"context"
	"os"

	"github.com/safar/go-order-core/internal/config"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/logging"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := database.Direction(os.Args[1])
	if direction != database.MigrateUp && direction != database.MigrateDown {
		logger.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Load config", zap.Error(err))
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Connect to database", zap.Error(err))
	}
	defer db.Close()

	count, err := database.Migrate(ctx, db, "migrations", direction, func(name string) {
		logger.Info("Running migration", zap.String("file", name))
	})
	if err != nil {
		logger.Fatal("Run migrations", zap.Error(err))
	}

	logger.Info("Migrations complete", zap.Int("count", count), zap.String("direction", string(direction)))
}
