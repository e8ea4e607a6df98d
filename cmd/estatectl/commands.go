package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/usecase"
)

type backend interface {
	OwnerForChannel(ctx context.Context, channelID string) (string, error)
	Report(ctx context.Context, ownerID string) (usecase.OwnerReport, error)
	History(ctx context.Context, ownerID string, stage domain.Stage, limit int) ([]domain.StepEvent, error)
	Regenerate(ctx context.Context, ownerID, channelID string) error
}

type opener func(ctx context.Context) (backend, func(), error)

type globalFlags struct {
	owner   string
	channel string
	json    bool
}

func newRootCmd(open opener) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "estatectl",
		Short:         "Inspect and repair owner task pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.owner, "owner", "", "owner id")
	root.PersistentFlags().StringVar(&g.channel, "channel", "", "messaging channel id (resolves the owner)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "output JSON")

	root.AddCommand(
		reportCmd(open, &g),
		stepsCmd(open, &g),
		historyCmd(open, &g),
		usageCmd(open, &g),
		regenerateCmd(open, &g),
	)
	return root
}

// withOwner opens the backend, resolves the owner and runs fn.
func withOwner(ctx context.Context, open opener, g *globalFlags, fn func(context.Context, backend, string) error) error {
	if g.owner == "" && g.channel == "" {
		return errors.New("one of --owner or --channel is required")
	}
	b, cleanup, err := open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	ownerID := g.owner
	if ownerID == "" {
		if ownerID, err = b.OwnerForChannel(ctx, g.channel); err != nil {
			return fmt.Errorf("resolve channel %s: %w", g.channel, err)
		}
	}
	return fn(ctx, b, ownerID)
}

func reportCmd(open opener, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show flow state, steps, task and question counts for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOwner(cmd.Context(), open, g, func(ctx context.Context, b backend, ownerID string) error {
				rep, err := b.Report(ctx, ownerID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, rep)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"Field", "Value"})
				flow := string(rep.State.Name)
				if flow == "" {
					flow = "-"
				}
				tw.AppendRows([]table.Row{
					{"owner", rep.OwnerID},
					{"flow", flow},
					{"tasks", rep.TaskCount},
					{"unanswered questions", rep.Unanswered},
					{"requests today", rep.RequestsToday},
					{"plan", fmt.Sprintf("%s (%s)", orDash(string(rep.Entitlement.PlanType)), orDash(string(rep.Entitlement.Status)))},
				})
				tw.Render()
				renderSteps(out, rep.Steps)
				return nil
			})
		},
	}
}

func stepsCmd(open opener, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List the generation steps of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOwner(cmd.Context(), open, g, func(ctx context.Context, b backend, ownerID string) error {
				rep, err := b.Report(ctx, ownerID)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), rep.Steps)
				}
				renderSteps(cmd.OutOrStdout(), rep.Steps)
				return nil
			})
		},
	}
}

func historyCmd(open opener, g *globalFlags) *cobra.Command {
	var (
		stage string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the newest transitions of one stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := domain.Stage(stage)
			if !st.Valid() {
				return fmt.Errorf("unknown stage %q", stage)
			}
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			return withOwner(cmd.Context(), open, g, func(ctx context.Context, b backend, ownerID string) error {
				evs, err := b.History(ctx, ownerID, st, limit)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"At", "Status", "Attempt", "Job", "Error"})
				for _, ev := range evs {
					at := ev.At
					tw.AppendRow(table.Row{formatTime(&at), ev.Status, ev.Attempt, orDash(ev.JobID), orDash(ev.ErrorMessage)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", string(domain.StageBasic), "stage (basic, personalized, enhanced)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events")
	return cmd
}

func usageCmd(open opener, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show today's request count and plan for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOwner(cmd.Context(), open, g, func(ctx context.Context, b backend, ownerID string) error {
				rep, err := b.Report(ctx, ownerID)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"owner_id":       rep.OwnerID,
						"requests_today": rep.RequestsToday,
						"premium":        rep.Entitlement.Premium(),
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d requests today, premium=%t\n",
					rep.OwnerID, rep.RequestsToday, rep.Entitlement.Premium())
				return nil
			})
		},
	}
}

func regenerateCmd(open opener, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate",
		Short: "Purge tasks and restart the pipeline from the basic stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.channel == "" {
				return errors.New("--channel is required so the owner can be notified")
			}
			return withOwner(cmd.Context(), open, g, func(ctx context.Context, b backend, ownerID string) error {
				if err := b.Regenerate(ctx, ownerID, g.channel); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "regeneration queued for %s\n", ownerID)
				return nil
			})
		},
	}
}

func renderSteps(out io.Writer, steps []domain.GenerationStep) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Stage", "Status", "Attempt", "Job", "Started", "Completed", "Error"})
	for _, s := range steps {
		status := string(s.Status)
		if status == "" {
			status = "not started"
		}
		tw.AppendRow(table.Row{s.Stage, status, s.Attempt, orDash(s.JobID), formatTime(s.StartedAt), formatTime(s.CompletedAt), orDash(s.ErrorMessage)})
	}
	tw.Render()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
