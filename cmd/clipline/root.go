package main

import (
	"github.com/spf13/cobra"

	"clipline/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "clipline",
		Short:         "Parallel render-clip pipeline for lyric videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configFlag)
	}

	rootCmd.AddCommand(newRenderCommand(loadConfig))
	rootCmd.AddCommand(newConfigCommand(loadConfig, &configFlag))
	rootCmd.AddCommand(newPublishConfigCommand(loadConfig))
	rootCmd.AddCommand(newTestNotifyCommand(loadConfig))

	return rootCmd
}
