package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/missing-persons/internal/accounts"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Missing Persons web server.
The server renders the HTML pages for reporting and searching missing persons
and exposes the same operations as a JSON API under /api/v1.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (overrides WEB_SESSION_SECRET)")
}

// applyServeFlags lets explicit flags win over the environment.
func applyServeFlags(cmd *cobra.Command, a *app) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}
	if secret := mustGetString(cmd, "session-secret"); secret != "" {
		a.cfg.Web.SessionSecret = secret
	}
	if a.cfg.Web.SessionSecret == "" {
		a.logger.Warn("WEB_SESSION_SECRET not set, using the development secret")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	applyServeFlags(cmd, a)

	m := metrics.New()
	svc, err := a.reportsService(ctx, m)
	if err != nil {
		return err
	}
	sessions, err := a.sessionStore(ctx)
	if err != nil {
		return err
	}

	server, err := web.NewServer(a.cfg, web.Deps{
		Accounts: accounts.NewService(a.backend.Users),
		Reports:  svc,
		Sessions: sessions,
		Metrics:  m,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during shutdown", "error", err)
		}
	}()

	fmt.Printf("Starting Missing Persons on http://%s:%d\n", a.cfg.Web.Host, a.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
