package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oliana-project/oliana/internal/config"
	"github.com/oliana-project/oliana/internal/daemon"
	"github.com/oliana-project/oliana/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "olianad",
		Short: "Oliana inference gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				if p, err := config.DefaultConfigPath(); err == nil {
					configPath = p
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := logger.New(cfg.LogLevel, "")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			return daemon.Run(cfg, log)
		},
	}

	root.Flags().String("config", "", "path to config.yaml (default: platform config dir)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
