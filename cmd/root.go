package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X".
var version = "dev"

type rootFlags struct {
	configPath string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "swarm",
		Short:         "agentswarm: route requests to a swarm of specialist agents",
		Long:          "swarm admits user requests through a governor, routes them to specialist agents by intent, runs the agents concurrently behind a provider fallback chain and keeps an episodic memory of every interaction.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default: ./swarm.{toml,yaml} or the user config dir)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newAskCmd(flags),
		newChatCmd(flags),
		newAgentsCmd(flags),
		newIngestCmd(flags),
		newMemoryCmd(flags),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}

// withApp wires the swarm for one command and closes it afterwards, so
// pending memory reaches the backend before the process exits.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(app *app) error) error {
	app, err := wireApp(cmd.Context(), flags.configPath)
	if err != nil {
		return err
	}
	runErr := fn(app)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
	defer cancel()
	return errors.Join(runErr, app.close(ctx))
}
