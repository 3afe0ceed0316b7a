package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/reconcile"
	"github.com/kozaktomas/encounters/internal/scan"
	"github.com/kozaktomas/encounters/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Encounters API server used by the mobile client.
The server exposes people, encounters, tags, face labeling, and
long-running library scans over JSON and SSE.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (defaults to PORT or 8080)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	client := visionClient(cfg)

	lib, err := photoLibrary(ctx, cfg)
	if err != nil {
		return err
	}

	pipeline := scan.NewPipeline(lib, client, client, store, resolver(cfg), cfg.Policy)

	deps := web.Deps{
		Store:      store,
		Reconcile:  reconcile.NewService(store),
		Pipeline:   pipeline,
		Detector:   tiledDetector(cfg, client),
		Embedder:   client,
		Propagator: scan.NewPropagator(store, client, cfg.Policy.Match.AutoAcceptThreshold),
		Policy:     cfg.Policy,
	}

	port := mustGetInt(cmd, "port")
	if port == 0 {
		port = cfg.Web.Port
	}
	host := mustGetString(cmd, "host")

	server := web.NewServer(deps, port, host)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Encounters API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
