// Command lag-sensor republishes the state of tracked entities after a fixed
// delay, replaying its recorded history across restarts.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "lag-sensor",
		Short:         "Delayed replay of entity state over MQTT",
		Long:          "lag-sensor publishes each state change of a tracked entity again, a configured delay after it was observed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "lag-sensor.yaml", "path to the YAML configuration")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	return cmd
}
