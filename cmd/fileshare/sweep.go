package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/fileshare/internal/clock"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
)

// newSweepCommand — однократная очистка истёкших файлов (для cron/Job).
func newSweepCommand() *cobra.Command {
	var reconcile bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Однократно удалить истёкшие файлы и выйти",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			blobs, err := openBlobStore(ctx, cfg)
			if err != nil {
				return err
			}
			records, err := openRecordStore(ctx, cfg, false, logger)
			if err != nil {
				return err
			}
			defer records.Close()

			lifecycle := service.NewLifecycle(records.files, blobs, cfg.LinkTTL, logger)
			sweeper := service.NewSweeper(lifecycle, cfg.SweepInterval, cfg.SweepBatchSize, clock.Real{}, logger)

			res := sweeper.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "found=%d purged=%d errors=%d duration=%s\n",
				res.Found, res.Purged, res.Errors, res.Duration)

			if reconcile {
				rs := service.NewReconcileService(
					records.files, blobs, cfg.ReconcileInterval, cfg.ReconcileGrace, clock.Real{}, logger,
				)
				if rr, skipped := rs.RunOnce(ctx); !skipped {
					fmt.Fprintf(cmd.OutOrStdout(), "reconcile: checked=%d orphans=%d deleted=%d errors=%d\n",
						rr.BlobsChecked, rr.Orphans, rr.Deleted, rr.Errors)
				}
			}

			if res.Errors > 0 {
				logger.Warn("Очистка завершилась с ошибками", slog.Int("errors", res.Errors))
				return fmt.Errorf("очистка: %d ошибок", res.Errors)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "после очистки выполнить сверку blob-хранилища")
	return cmd
}
