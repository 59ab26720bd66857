package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crm-datakeeper/internal/store"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the engine database",
}

// dbInitCmd migrates the engine and CRM schema
var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the database schema",
	Long: `Create the engine tables (backup jobs, merge jobs, integrity checks)
and the CRM schema in the configured database. Safe to run repeatedly.`,
	RunE: runDBInit,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd)
}

// runDBInit runs the schema migration
func runDBInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}

	if err := store.AutoMigrate(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println(color.GreenString("Database schema is up to date"))
	return nil
}
