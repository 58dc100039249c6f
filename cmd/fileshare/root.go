package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/fileshare/internal/config"
)

// newRootCommand собирает дерево команд: serve, sweep, migrate, version.
func newRootCommand() *cobra.Command {
	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "fileshare",
		Short: "Временный обмен файлами по ссылкам с ограниченным сроком жизни.",
		Long: `fileshare принимает файлы, выдаёт ссылку на скачивание и удаляет файл
после истечения срока жизни ссылки. Конфигурация задаётся переменными FS_*,
файлом .env или TOML-файлом (FS_CONFIG_FILE).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Версия приложения",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	}
}

// loadConfig загружает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		return nil, nil, err
	}
	return cfg, config.SetupLogger(cfg), nil
}
