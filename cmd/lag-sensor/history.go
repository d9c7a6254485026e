package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/lag-sensor/internal/config"
	"github.com/sweeney/lag-sensor/internal/history"
)

type historyOptions struct {
	entity string
	since  string
}

func newHistoryCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded state changes",
		Long: `Print the state changes recorded in the history store.

Without --entity, lists the entities that have recorded history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), rootOpts.configPath, opts, time.Now(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.entity, "entity", "", "entity ID to print")
	cmd.Flags().StringVar(&opts.since, "since", "24h", "how far back to look (e.g. 24h, PT90M, 01:30)")
	return cmd
}

func runHistory(ctx context.Context, path string, opts *historyOptions, now time.Time, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := config.Load(path)
	if err != nil {
		return err
	}
	window, err := config.ParseDelay(opts.since)
	if err != nil {
		return fmt.Errorf("--since: %w", err)
	}

	store, err := history.Open(f.History)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.entity == "" {
		ids, err := store.Entities(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
		return nil
	}

	recs, err := store.Since(ctx, opts.entity, now.Add(-window))
	if err != nil {
		return err
	}
	for _, r := range recs {
		line := r.ObservedAt.UTC().Format(time.RFC3339Nano) + "  " + r.Value
		if r.Unit != "" {
			line += " " + r.Unit
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
