package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentswarm/core"
)

func newAskCmd(flags *rootFlags) *cobra.Command {
	var (
		caller string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Submit one request to the swarm",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *app) error {
				payloads, err := app.swarm.Submit(cmd.Context(), strings.Join(args, " "), caller)
				if err != nil {
					return err
				}
				return writePayloads(cmd.OutOrStdout(), payloads, asJSON)
			})
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "cli", "caller id used for rate limiting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print payloads as JSON")
	return cmd
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	var caller string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read requests line by line until EOF or \"exit\"",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(app *app) error {
				out := cmd.OutOrStdout()
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "exit" || line == "quit" {
						return nil
					}
					if line == "" {
						continue
					}
					payloads, err := app.swarm.Submit(cmd.Context(), line, caller)
					if core.IsAdmissionError(err) {
						// rejected requests do not end the session
						fmt.Fprintf(out, "! %v\n", err)
						continue
					}
					if err != nil {
						return err
					}
					if err := writePayloads(out, payloads, false); err != nil {
						return err
					}
				}
				return scanner.Err()
			})
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "cli", "caller id used for rate limiting")
	return cmd
}

func newAgentsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(app *app) error {
				routed := map[string]bool{}
				for _, id := range app.swarm.Router().Agents() {
					routed[id] = true
				}
				for _, name := range app.swarm.Agents() {
					marker := " "
					if routed[name] {
						marker = "*"
					}
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add text files to the retrieval collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *app) error {
				docs := make([]core.Document, 0, len(args))
				for _, path := range args {
					content, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					abs, err := filepath.Abs(path)
					if err != nil {
						return err
					}
					docs = append(docs, core.Document{
						ID:       abs,
						Content:  string(content),
						Metadata: map[string]string{"source": filepath.Base(path)},
					})
				}
				if err := app.retriever.Add(cmd.Context(), docs...); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "ingested %d documents (%d in collection)\n", len(docs), app.retriever.Count())
				return err
			})
		},
	}
}

func writePayloads(w io.Writer, payloads []core.ResultPayload, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payloads)
	}
	for _, p := range payloads {
		prefix := p.AgentID
		if p.IsError() {
			prefix += " (error)"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s\n", prefix, p.Text()); err != nil {
			return err
		}
	}
	return nil
}
