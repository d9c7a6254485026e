package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sweeney/lag-sensor/internal/config"
	"github.com/sweeney/lag-sensor/internal/mqtt"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and list the sensors it defines",
		Long: `Load and validate the configuration without connecting to anything.

Two sensors tracking the same entity with the same delay are a
configuration conflict and make the command fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts.configPath, cmd.OutOrStdout())
		},
	}
}

func runValidate(path string, w io.Writer) error {
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	sensors, err := f.Validate()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(w, "%s: %d sensor(s), broker %s\n", path, len(sensors), f.Broker)
	for _, s := range sensors {
		source := "topic " + s.Topic
		if s.GPIO != nil {
			source = fmt.Sprintf("gpio pin %d", s.GPIO.Pin)
		}
		fmt.Fprintf(w, "  %s\n    entity:    %s\n    delay:     %s\n    source:    %s\n    publishes: %s\n    unique_id: %s\n",
			s.Name, s.EntityID, config.FormatDelay(s.Delay), source, mqtt.StateTopic(s.Name), s.UniqueID())
	}
	return nil
}
