package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewatch/pipewatch/pkg/alerts"
	"github.com/pipewatch/pipewatch/pkg/db"
	"github.com/pipewatch/pipewatch/pkg/executions"
	"github.com/pipewatch/pipewatch/pkg/health"
	"github.com/pipewatch/pipewatch/pkg/registry"
)

var (
	initDriver string
	initDSN    string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the pipewatch database schema",
	Long: `init connects directly to the database and creates the pipewatch
tables. It is idempotent: running it against an initialized database
applies any missing schema changes and leaves data untouched.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDriver, "db-driver", "sqlite", "Database driver: sqlite, postgres, mysql")
	initCmd.Flags().StringVar(&initDSN, "db-dsn", "pipewatch.db", "Database connection string")
}

func runInit(cmd *cobra.Command, args []string) error {
	gormDB, err := db.Connect(cmd.Context(), initDriver, initDSN, db.Options{})
	if err != nil {
		return err
	}

	for _, migrate := range []func() error{
		registry.NewMetadataStore(gormDB).AutoMigrate,
		executions.NewExecutionStore(gormDB).AutoMigrate,
		health.NewVerdictStore(gormDB).AutoMigrate,
		alerts.NewManager(gormDB, nil).AutoMigrate,
	} {
		if err := migrate(); err != nil {
			return err
		}
	}

	fmt.Printf("Initialized pipewatch schema (%s)\n", initDriver)
	return nil
}
