package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fulfillment-backend-trusted/internal/app"
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/logger"
)

var (
	configPath string
	jsonOutput bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fulfillctl",
		Short:         "Operator tooling for payment fulfillment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.dev.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "output as JSON")

	rootCmd.AddCommand(sagasCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// keep stdout for command output
	logger.InitializeWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// env is an opened service graph. close releases the storage.
type env struct {
	cfg      *config.Config
	storage  *app.Storage
	services *app.Services
}

func (e *env) close() {
	e.storage.Close()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// alerts raised by operator commands are logged only
	services, err := app.NewServices(cfg, storage.Repositories, app.NewAlerter(config.AlertsConfig{}))
	if err != nil {
		storage.Close()
		return nil, err
	}
	return &env{cfg: cfg, storage: storage, services: services}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
