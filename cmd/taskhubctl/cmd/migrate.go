package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"taskhub.org/internal/dbutil"
	"taskhub.org/internal/migrate"
)

const migrateTimeout = 30 * time.Second

func newMigrateCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the identity schema",
	}

	run := func(fn func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()

			db, err := dbutil.Open(ctx, a.cfg.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := migrate.NewEmbedded(db)
			if err != nil {
				return err
			}
			return fn(ctx, cmd, m)
		}
	}

	c.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return printApplied(cmd, applied, "Schema is up to date.")
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if errors.Is(err, migrate.ErrNothingApplied) {
					pterm.Info.WithWriter(cmd.OutOrStdout()).Println("Nothing to roll back.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Rolled back %s", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Insert the built-in roles",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Seed(ctx)
				if err != nil {
					return fmt.Errorf("migrate seed: %w", err)
				}
				return printApplied(cmd, applied, "Seeds already applied.")
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Status(ctx)
				if err != nil {
					return err
				}
				pending, err := m.Pending(ctx)
				if err != nil {
					return err
				}
				data := pterm.TableData{{"MIGRATION", "STATE"}}
				for _, name := range applied {
					data = append(data, []string{name, "applied"})
				}
				for _, name := range pending {
					data = append(data, []string{name, "pending"})
				}
				return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
			}),
		},
	)
	return c
}

func printApplied(cmd *cobra.Command, applied []string, none string) error {
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		pterm.Info.WithWriter(out).Println(none)
		return nil
	}
	for _, name := range applied {
		pterm.Success.WithWriter(out).Printfln("Applied %s", name)
	}
	return nil
}
