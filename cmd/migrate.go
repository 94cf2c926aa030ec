package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/missing-persons/internal/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded schema migrations to the database selected by
DATABASE_DRIVER and DATABASE_URL, then exit. The serve command applies them
on start as well.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to %s database...\n", cfg.Database.Driver)
	backend, applied, err := openBackend(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer backend.Close()

	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Printf("Applied %s\n", name)
	}
	fmt.Printf("%d migration(s) applied\n", len(applied))
	return nil
}
