package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"clipline/internal/config"
	"clipline/internal/logging"
	"clipline/internal/pubsub"
	"clipline/internal/renderconfig"
)

// newPublishConfigCommand is the operator tool for live limit changes. It
// publishes a partial update on the config bus; running renders pick it up on
// their next admission decision.
func newPublishConfigCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var maxParallelism int
	var perVideoLimit int
	var maxRetry int
	var placeholderAsset string

	cmd := &cobra.Command{
		Use:   "publish-config",
		Short: "Publish a live configuration update on the config bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			update := renderconfig.Update{}
			if cmd.Flags().Changed("max-parallelism") {
				update.MaxParallelism = &maxParallelism
			}
			if cmd.Flags().Changed("per-video-limit") {
				update.PerVideoLimit = &perVideoLimit
			}
			if cmd.Flags().Changed("max-retry") {
				update.MaxRetry = &maxRetry
			}
			if cmd.Flags().Changed("placeholder-asset") {
				update.PlaceholderAssetPath = &placeholderAsset
			}
			if update == (renderconfig.Update{}) {
				return fmt.Errorf("nothing to publish: set at least one flag")
			}

			payload, err := json.Marshal(update)
			if err != nil {
				return err
			}

			bus, err := pubsub.Open(cfg.ConfigBus.Path, logging.NewNop())
			if err != nil {
				return err
			}
			defer bus.Close()

			if err := bus.Publish(cmd.Context(), cfg.ConfigBus.Channel, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published update on %s: %s\n", cfg.ConfigBus.Channel, payload)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxParallelism, "max-parallelism", 0, "New global concurrency cap")
	cmd.Flags().IntVar(&perVideoLimit, "per-video-limit", 0, "New per-video concurrency cap")
	cmd.Flags().IntVar(&maxRetry, "max-retry", 0, "New retry limit")
	cmd.Flags().StringVar(&placeholderAsset, "placeholder-asset", "", "New placeholder template asset path")

	return cmd
}
