package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-ingestor/internal/config"
	"github.com/JakeFAU/feed-ingestor/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the article schema to storage.dsn",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Storage.Provider != config.StoragePostgres {
				return fmt.Errorf("migrate requires storage.provider %q", config.StoragePostgres)
			}
			version, err := postgres.Migrate(rt.cfg.Storage.DSN)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return err
		},
	}
}
