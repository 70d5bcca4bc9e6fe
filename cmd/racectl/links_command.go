package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <event-id>",
		Short: "Match an event's drivers against platform users",
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
			changes, err := a.links.ReconcileDriverLinks(cmd.Context(), id)
			if err != nil {
				return err
			}
			if changes == nil {
				changes = []matching.LinkChange{}
			}
			return writeJSON(cmd, changes)
		},
	}
}

func newLinksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Review driver links",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <event-id>",
		Short: "List links for drivers entered in an event",
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
			links, err := a.links.EventLinks(cmd.Context(), id)
			if err != nil {
				return err
			}
			if links == nil {
				links = []models.DriverLink{}
			}
			return writeJSON(cmd, links)
		},
	})

	cmd.AddCommand(newLinkTransitionCommand(ctx, "confirm", "Confirm a suggested or conflicting link", (*matching.Service).Confirm))
	cmd.AddCommand(newLinkTransitionCommand(ctx, "reject", "Reject a link", (*matching.Service).Reject))

	return cmd
}

type linkTransition func(*matching.Service, context.Context, int64) (*models.DriverLink, error)

func newLinkTransitionCommand(ctx *commandContext, use, short string, apply linkTransition) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <link-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("link", args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			link, err := apply(a.links, cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd, link)
		},
	}
}
