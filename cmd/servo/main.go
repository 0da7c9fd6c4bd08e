package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/diffuservo/internal/config"
)

// #region root

var (
	configPath string
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:   "servo",
		Short: "Closed-loop image generation against a Forge backend",
		Long: `servo renders a theme, has a vision model score the result and
adjusts the generation parameters until the score reaches the target.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "servo.yaml", "path to the YAML config (optional)")
	registerCommands()
}

// #endregion root

// #region main
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("servo: %v", err)
	}
}

// #endregion main
