package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/procure-approval/pkg/database"
)

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, a.logger).Run(cmd.Context(), database.Migrations())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "applied %d migration(s) to %s\n", applied, a.cfg.Database.Path)
			return nil
		},
	}
	cmd.AddCommand(a.migrateStatusCmd())
	return cmd
}

func (a *app) migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			all, err := database.LoadMigrations(database.Migrations())
			if err != nil {
				return err
			}
			applied, err := database.NewMigrator(db, a.logger).Applied(cmd.Context())
			if err != nil {
				return err
			}
			done := make(map[int]database.AppliedMigration, len(applied))
			for _, m := range applied {
				done[m.Version] = m
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
			for _, m := range all {
				at := "pending"
				if rec, ok := done[m.Version]; ok {
					at = rec.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%03d\t%s\t%s\n", m.Version, m.Name, at)
			}
			return w.Flush()
		},
	}
}
