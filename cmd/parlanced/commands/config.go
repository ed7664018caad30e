package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parlancehq/parlance/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration the daemon would run with: the built-in
defaults, overlaid by the config file (if given), overlaid by
environment secrets. Secret values are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		redact(&cfg.Realtime.APIKey)
		redact(&cfg.TTS.APIKey)
		redact(&cfg.Finalize.OpenAIAPIKey)
		redact(&cfg.Carrier.AuthToken)
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func redact(s *string) {
	if *s != "" {
		*s = "[set]"
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
}
