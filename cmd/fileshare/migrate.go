package main

import (
	"github.com/spf13/cobra"
)

// newMigrateCommand применяет миграции хранилища записей и выходит.
func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции хранилища записей",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DBDriver == "memory" {
				logger.Info("FS_DB_DRIVER=memory: миграции не требуются")
				return nil
			}

			records, err := openRecordStore(cmd.Context(), cfg, true, logger)
			if err != nil {
				return err
			}
			records.Close()

			logger.Info("Миграции применены")
			return nil
		},
	}
}
