package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/synthesis-engine/internal/app"
	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/healer"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the worker pool and the interval triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.RunCycle(cmd.Context())
			if err != nil {
				return fmt.Errorf("run cycle: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Run one source discovery pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Discover(cmd.Context())
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newHealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heal <source-id>",
		Short: "Try to synthesize a replacement parser for one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid source id %q: %w", args[0], err)
			}
			res, err := a.Heal(cmd.Context(), id)
			if err != nil && !errors.Is(err, healer.ErrExhausted) {
				return fmt.Errorf("heal source %d: %w", id, err)
			}
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newProposalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "Review machine-generated parser proposals",
	}

	var (
		status   string
		sourceID int64
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List proposals, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			proposals, err := a.Review().List(cmd.Context(), engine.ProposalFilter{
				Status:   engine.ProposalStatus(status),
				SourceID: sourceID,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range proposals {
				fmt.Fprintf(w, "%s\tsource=%d\t%s\titerations=%d\t%s\n",
					p.ID, p.SourceID, p.Status, p.Iterations, p.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", string(engine.ProposalPendingReview), "filter by status (empty for all)")
	list.Flags().Int64Var(&sourceID, "source-id", 0, "only proposals for this source")
	list.Flags().IntVar(&limit, "limit", 50, "maximum proposals to show")

	approve := &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Approve a proposal; it takes effect at the next ingestion cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := a.Review().Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposal %s approved for source %d\n", p.ID, p.SourceID)
			return nil
		},
	}

	reject := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := a.Review().Reject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposal %s rejected\n", p.ID)
			return nil
		},
	}

	cmd.AddCommand(list, approve, reject)
	return cmd
}

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the source registry",
	}

	var seedFile string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Insert the curated starting sources, or those listed in --file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sources := app.DefaultSources
			if seedFile != "" {
				if sources, err = readSourceFile(seedFile); err != nil {
					return err
				}
			}
			added, err := a.SeedSources(cmd.Context(), sources)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d sources\n", added)
			return nil
		},
	}

	seed.Flags().StringVar(&seedFile, "file", "", "YAML file with a sources list")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sources, err := a.Store().ListSources(cmd.Context(), engine.SourceFilter{})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, s := range sources {
				state := "[INACTIVE]"
				if s.IsActive {
					state = "[ACTIVE]"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.ID, state, s.ParserType, s.Name, s.URL)
			}
			return nil
		},
	}

	cmd.AddCommand(seed, list, newToggleCmd("activate", true), newToggleCmd("deactivate", false))
	return cmd
}

func newToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: "Set whether a source is ingested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := a.SetSourceActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "source %q active=%t\n", args[0], active)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the relational schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func readSourceFile(path string) ([]engine.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return app.ReadSources(f)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
