package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/padraicbc/racedata/models"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List and register events",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			events, err := a.store.ListEvents(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, events)
		},
	})

	var (
		source string
		track  int64
		name   string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an event from the timing source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			source = strings.TrimSpace(source)
			if source == "" {
				return fmt.Errorf("--source is required")
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			ev := &models.Event{SourceEventID: source, TrackID: track, Name: strings.TrimSpace(name)}
			if err := a.store.CreateEvent(cmd.Context(), ev); err != nil {
				return err
			}
			return writeJSON(cmd, ev)
		},
	}
	add.Flags().StringVar(&source, "source", "", "Event id at the timing source")
	add.Flags().Int64Var(&track, "track", 0, "Track id at the timing source")
	add.Flags().StringVar(&name, "name", "", "Display name")
	cmd.AddCommand(add)

	return cmd
}
