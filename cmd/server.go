package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/internal/api"
	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/indexer"
	"github.com/davidschrooten/searchsync/internal/mongodb"
	"github.com/davidschrooten/searchsync/internal/search"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the searchsync server",
	Long: `Start the HTTP server and the change watchers.
The server applies every collection's mapping on start and keeps
automatically indexed collections in sync with MongoDB.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().String("host", "", "Host to bind the server to (overrides server.host)")
	serverCmd.Flags().Int("port", 0, "Port to bind the server to (overrides server.port)")
	serverCmd.Flags().Bool("sync", false, "Synchronize every collection on start")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	// Initialize MongoDB client
	mongoClient, err := mongodb.NewClient(cfg.MongoDB, log)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer mongoClient.Disconnect()

	// Initialize search client
	searchClient, err := search.NewClient(cfg.Search, log)
	if err != nil {
		return fmt.Errorf("failed to initialize search client: %w", err)
	}
	defer searchClient.Close()

	// Initialize indexer
	indexerService, err := indexer.NewService(cfg, searchClient, func(name string) indexer.RecordStore {
		return mongoClient.Records(name)
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize indexer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := indexerService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start indexer: %w", err)
	}
	defer indexerService.Stop()

	if sync, _ := cmd.Flags().GetBool("sync"); sync {
		for _, name := range indexerService.Collections() {
			if _, err := indexerService.StartSync(ctx, name, document.Filter{}, indexer.SyncOptions{}); err != nil {
				log.Error("Failed to start synchronization", zap.String("collection", name), zap.Error(err))
			}
		}
	}

	apiServer := api.NewServer(indexerService, searchClient, mongoClient, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server exited")
	return nil
}
