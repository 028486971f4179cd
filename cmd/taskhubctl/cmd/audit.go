package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newAuditCmd(a *app) *cobra.Command {
	var (
		email string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent access log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := a.core(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			var userID string
			if email != "" {
				u, err := core.Store.FindUserByEmail(cmd.Context(), email)
				if err != nil {
					return fmt.Errorf("find %s: %w", email, err)
				}
				userID = u.ID
			}
			entries, err := core.Store.ListAccessLog(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			data := pterm.TableData{{"TIME", "ACTION", "USER", "OK", "DETAIL"}}
			for _, e := range entries {
				data = append(data, []string{
					e.Timestamp.Format(time.RFC3339),
					string(e.Action),
					e.UserID,
					strconv.FormatBool(e.Succeeded),
					e.Detail,
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
		},
	}
	list.Flags().StringVar(&email, "email", "", "only entries for this user")
	list.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")

	c := &cobra.Command{
		Use:   "audit",
		Short: "Read the access log",
	}
	c.AddCommand(list)
	return c
}
