package commands

import (
	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "parlanced",
	Short: "Phone call bridge between the telephony carrier and the conversational model",
	Long: `parlanced - the phone call bridge daemon.

The daemon accepts carrier media streams over websocket, relays caller
audio to the realtime conversational model, arbitrates turn-taking, and
streams synthesized speech back to the caller. When a call ends it
archives the transcript and extracts structured intake records.

Secrets come from the environment when not set in the config file:
  OPENAI_API_KEY       realtime model and transcript extraction
  ELEVENLABS_API_KEY   speech synthesis
  CARRIER_AUTH_TOKEN   telephony webhook verification

Examples:
  # Run with the built-in defaults (in-memory store, local archive)
  parlanced serve

  # Run against a config file
  parlanced serve -c /etc/parlance/config.yaml

  # Show the effective configuration
  parlanced config -c /etc/parlance/config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to the YAML configuration file")
}
