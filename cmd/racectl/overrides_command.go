package main

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

func newOverridesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Manage transponder overrides",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <event-id>",
		Short: "List an event's overrides",
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
			list, err := a.overrides.List(cmd.Context(), id)
			if err != nil {
				return err
			}
			if list == nil {
				list = []models.TransponderOverride{}
			}
			return writeJSON(cmd, list)
		},
	})

	var (
		driverID    int64
		fromRace    int64
		transponder string
		by          string
	)
	add := &cobra.Command{
		Use:   "add <event-id>",
		Short: "Record that a driver ran a different transponder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("event", args[0])
			if err != nil {
				return err
			}
			if driverID <= 0 {
				return fmt.Errorf("--driver is required")
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			in := matching.OverrideInput{DriverID: driverID, Transponder: transponder}
			if fromRace > 0 {
				in.EffectiveFromRaceID = &fromRace
			}
			if by == "" {
				by = currentUser()
			}
			o, err := a.overrides.Create(cmd.Context(), id, in, by)
			if err != nil {
				return err
			}
			return writeJSON(cmd, o)
		},
	}
	add.Flags().Int64Var(&driverID, "driver", 0, "Driver id")
	add.Flags().Int64Var(&fromRace, "from-race", 0, "First race the override applies to (default: all races)")
	add.Flags().StringVar(&transponder, "transponder", "", "Transponder number")
	add.Flags().StringVar(&by, "by", "", "Operator recorded as the creator (default: current OS user)")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <override-id>",
		Short: "Delete an override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("override", args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			if err := a.overrides.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "override %d deleted\n", id)
			return nil
		},
	})

	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "racectl"
}
