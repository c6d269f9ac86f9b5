package cli

import (
	"fmt"
	"os"

	"github.com/felixgeelhaar/lookout/internal/config"
	"github.com/felixgeelhaar/lookout/internal/store"
)

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func getStore(cfg *config.Config) store.Storage {
	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Printf("Failed to init store: %v\n", err)
		os.Exit(1)
	}
	return s
}
