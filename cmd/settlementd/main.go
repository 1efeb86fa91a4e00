/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the contract settlement engine server, or seeds
  the database with a demo contract. Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  settlementd serve   Start the HTTP API server
  settlementd seed    Load the demo contract fixture into the database

STARTUP SEQUENCE (serve):
  1. Load .env (if present), then TOML config, then env overrides
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with the default settlementd.toml (if present) or defaults
  ./settlementd serve

  # Explicit config file
  ./settlementd serve --config=/etc/settlementd.toml

  # Seed a demo contract, then serve against the same database
  ./settlementd seed
  ./settlementd serve

ENVIRONMENT:
  SETTLEMENT_PORT     Overrides [server].port
  SETTLEMENT_DB       Overrides [database].path
  SETTLEMENT_ORIGINS  Overrides [cors].origins (comma-separated)
  A .env file in the working directory is loaded before anything else.

SEE ALSO:
  - config/config.go: Configuration layering
  - api/server.go: Router configuration
  - factory/contract.go: The demo fixture loaded by seed
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/obrakit/settlement-engine/api"
	"github.com/obrakit/settlement-engine/config"
	"github.com/obrakit/settlement-engine/factory"
	"github.com/obrakit/settlement-engine/settlement"
	"github.com/obrakit/settlement-engine/store/sqlite"
)

const defaultConfigFile = "settlementd.toml"

var (
	configFile string
	flagPort   int
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "settlementd",
	Short: "Contract settlement engine",
	Long: `settlementd tracks how much of each contract resource remains
available (catalog quantities, deductions, advance, retentions) and
computes the financial breakdown of requisitions as they are drafted.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo contract into the database",
	Long: `Load a demo civil-works contract (catalog items, an applied
quantity amendment, extra work, a special deduction, and a retention
unit) into the configured database, then save and issue a first
requisition so the availability table starts non-trivial.`,
	RunE: runSeed,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "HTTP server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides config)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies the .env file and resolves the layered config. The
// default config file is optional; an explicit --config must exist.
func loadConfig() (config.Config, error) {
	_ = godotenv.Load()

	path := configFile
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return cfg, err
	}

	// Flags beat file and environment.
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store)
	router := api.NewRouter(handler, cfg.CORS.Origins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Server.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	bundle, err := factory.NewContractFactory().ParseContract(factory.DemoContractJSON())
	if err != nil {
		return fmt.Errorf("demo fixture: %w", err)
	}
	if err := bundle.Load(ctx, store); err != nil {
		return err
	}

	// Issue a first requisition so availability starts non-trivial: the
	// demo contract arrives with part of the demolition already claimed.
	req, err := seedRequisition(ctx, store, bundle)
	if err != nil {
		return fmt.Errorf("seed requisition: %w", err)
	}

	log.Printf("Seeded contract %q (%s) with %d items, %d amendments, and requisition #%d into %s",
		bundle.Contract.Name, bundle.Contract.ID,
		len(bundle.Items), len(bundle.Amendments), req.Number, cfg.Database.Path)
	return nil
}

// seedRequisition drafts, saves, and issues a payment request for the
// first catalog item, going through the same engine pass as the API.
func seedRequisition(ctx context.Context, store settlement.Store, bundle *factory.Bundle) (settlement.Requisition, error) {
	snap, err := store.LoadSnapshot(ctx, bundle.Contract.ID, "")
	if err != nil {
		return settlement.Requisition{}, err
	}

	sel := settlement.Selection{
		Items: []settlement.ItemSelection{{
			LineItemID: bundle.Items[0].ID,
			Quantity:   decimal.NewFromInt(300),
		}},
	}

	result, assembly, err := settlement.Engine{}.Finalize(snap, sel)
	if err != nil {
		return settlement.Requisition{}, err
	}

	req := settlement.Requisition{ContractID: bundle.Contract.ID}
	result.ApplyTo(&req)
	req.Concepts = assembly.Concepts
	if err := store.SaveRequisition(ctx, &req, assembly.Mutation); err != nil {
		return settlement.Requisition{}, err
	}
	if _, err := store.IssuePaymentRequest(ctx, req.ID); err != nil {
		return settlement.Requisition{}, err
	}
	return req, nil
}
