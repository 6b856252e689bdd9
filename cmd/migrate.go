package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/aggregation/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbConn, err := db.Connect(cfg.Database)
		if err != nil {
			return errors.Wrap(err, "failed to connect to database")
		}
		defer db.Close(dbConn)

		log.Info().Msg("Running database migrations...")
		if err := db.Migrate(dbConn); err != nil {
			return errors.Wrap(err, "failed to run database migrations")
		}

		log.Info().Msg("Database migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
