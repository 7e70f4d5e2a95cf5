package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentswarm/config"
	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/memory/sqlite"
)

func newMemoryCmd(flags *rootFlags) *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the swarm's memory",
	}
	memoryCmd.AddCommand(
		newMemoryRememberCmd(flags),
		newMemoryRecallCmd(flags),
		newMemoryEventsCmd(flags),
		newMemoryStatsCmd(flags),
		newMemoryPruneCmd(flags),
		newMemoryBackupCmd(flags),
		newMemoryRestoreCmd(flags),
	)
	return memoryCmd
}

func newMemoryRememberCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remember <key> <value>",
		Short: "Store a semantic fact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *app) error {
				return app.swarm.Memory().UpsertFact(args[0], args[1])
			})
		},
	}
}

func newMemoryRecallCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recall <key>",
		Short: "Print a semantic fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *app) error {
				value, ok, err := app.swarm.Memory().Recall(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no fact stored under %q", args[0])
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
				return err
			})
		},
	}
}

func newMemoryEventsCmd(flags *rootFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "events [query]",
		Short: "List recent episodic events, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *app) error {
				var (
					events []core.EpisodicEvent
					err    error
				)
				if len(args) == 1 {
					events, err = app.swarm.Memory().SearchEvents(cmd.Context(), args[0], limit)
				} else {
					events, err = app.swarm.Memory().RecentEvents(cmd.Context(), limit)
				}
				if err != nil {
					return err
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(events)
				}
				for _, e := range events {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %s/%s\n", e.Timestamp.Format(time.RFC3339), e.Actor, e.Action); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON")
	return cmd
}

func newMemoryStatsCmd(flags *rootFlags) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats <metric>",
		Short: "Summarize a recorded metric, e.g. agent_latency_ms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *app) error {
				var from time.Time
				if since > 0 {
					from = time.Now().Add(-since)
				}
				sum, err := app.swarm.Memory().StatSummary(cmd.Context(), args[0], from)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: count=%d avg=%.2f min=%.2f max=%.2f\n",
					args[0], sum.Count, sum.Avg(), sum.Min, sum.Max)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only samples newer than this; 0 for all")
	return cmd
}

func newMemoryPruneCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete events and stats past their configured retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(app *app) error {
				n, err := app.swarm.Memory().ApplyRetention(cmd.Context(), app.cfg.Retention())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records\n", n)
				return err
			})
		},
	}
}

func newMemoryBackupCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dst>",
		Short: "Write a compressed snapshot of the memory database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *app) error {
				return app.swarm.Memory().Backup(cmd.Context(), args[0])
			})
		},
	}
}

// newMemoryRestoreCmd works on the configured path directly; the database
// must not be open while it is replaced.
func newMemoryRestoreCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <src>",
		Short: "Replace the memory database with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Memory.Path == "" {
				return errors.New("memory.path is not configured")
			}
			return sqlite.Restore(args[0], cfg.Memory.Path)
		},
	}
}
