package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/config"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/database"
)

// pgStore joins the pool-level and repository-level admin operations
type pgStore struct {
	*database.DB
	*database.Repository
}

func openStore(ctx context.Context, configPath string) (adminStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	db, err := database.New(ctx, cfg.Database, nil)
	if err != nil {
		return nil, err
	}
	return pgStore{DB: db, Repository: database.NewRepository(db)}, nil
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(openStore).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
