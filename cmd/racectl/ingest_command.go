package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/models"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		depthFlag string
		pending   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [event-id...]",
		Short: "Import events to a depth through the ingestion worker",
		Long: "Imports the given events, or with --pending every event not yet at the\n" +
			"requested depth. Exits non-zero if any run fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, err := models.ParseDepth(depthFlag)
			if err != nil {
				return err
			}
			if depth == models.DepthNone {
				return fmt.Errorf("depth must be one of entries, results, laps_full")
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}

			ids, err := ingestTargets(cmd, a, args, pending, depth)
			if err != nil {
				return err
			}

			outcomes := make([]ingest.Outcome, 0, len(ids))
			failed := 0
			for _, id := range ids {
				out, err := a.ingest.Ingest(cmd.Context(), id, depth)
				if err != nil {
					return fmt.Errorf("event %d: %w", id, err)
				}
				if out.Status == ingest.StatusFailed {
					failed++
					a.log.Warn("ingest failed", zap.Int64("event_id", id), zap.String("reason", out.Reason), zap.Bool("retryable", out.Retryable))
				}
				outcomes = append(outcomes, out)
			}
			if err := writeJSON(cmd, outcomes); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d ingestion runs failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&depthFlag, "depth", string(models.DepthLapsFull), "Target depth: entries, results or laps_full")
	cmd.Flags().BoolVar(&pending, "pending", false, "Ingest every event below the target depth")
	return cmd
}

func ingestTargets(cmd *cobra.Command, a *app, args []string, pending bool, depth models.Depth) ([]int64, error) {
	if pending {
		if len(args) > 0 {
			return nil, fmt.Errorf("--pending takes no event ids")
		}
		events, err := a.store.ListEvents(cmd.Context())
		if err != nil {
			return nil, err
		}
		var ids []int64
		for _, ev := range events {
			if !ev.Depth.Satisfies(depth) {
				ids = append(ids, ev.ID)
			}
		}
		return ids, nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("give at least one event id or --pending")
	}
	ids := make([]int64, 0, len(args))
	for _, s := range args {
		id, err := parseID("event", s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <event-id>",
		Short: "Show an event's ingestion depth and stored row counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("event", args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			st, err := a.ingest.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd, st)
		},
	}
}
