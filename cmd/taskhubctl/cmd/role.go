package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"taskhub.org/internal/auth"
)

func newRoleCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "role",
		Short: "Inspect roles and manage assignments",
	}
	c.AddCommand(newRoleListCmd(a), newRoleGrantCmd(a), newRoleRevokeCmd(a))
	return c
}

func newRoleListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := a.core(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			roles, err := core.Roles.Roles(cmd.Context())
			if err != nil {
				return err
			}
			data := pterm.TableData{{"ID", "NAME", "DESCRIPTION"}}
			for _, r := range roles {
				data = append(data, []string{r.ID, string(r.Name), r.Description})
			}
			return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
		},
	}
}

// parseExpiry accepts a duration from now ("72h") or an RFC 3339 instant.
func parseExpiry(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := now.Add(d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --expires %q: want a duration or RFC 3339 time", s)
	}
	return &t, nil
}

func newRoleGrantCmd(a *app) *cobra.Command {
	var email, role, expires string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Assign a role to a user",
		Long: `Assign a role, replacing any active assignment of the same role. --expires
takes a duration from now (e.g. 72h) or an RFC 3339 time; omit it for a
permanent assignment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := parseExpiry(expires, time.Now())
			if err != nil {
				return err
			}
			core, err := a.core(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			u, err := core.Store.FindUserByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("find %s: %w", email, err)
			}
			ra, err := core.Roles.Grant(cmd.Context(), u.ID, auth.RoleName(role), exp)
			if err != nil {
				return fmt.Errorf("grant %s: %w", role, err)
			}
			msg := fmt.Sprintf("Granted %s to %s (assignment %s)", strings.ToUpper(role), u.Email, ra.ID)
			if ra.ExpiresAt != nil {
				msg += ", expires " + ra.ExpiresAt.Format(time.RFC3339)
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "ADMINISTRATOR, MANAGER or CONTRIBUTOR")
	cmd.Flags().StringVar(&expires, "expires", "", "expiry as a duration from now or an RFC 3339 time")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newRoleRevokeCmd(a *app) *cobra.Command {
	var email, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Deactivate a user's assignments of a role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := a.core(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			u, err := core.Store.FindUserByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("find %s: %w", email, err)
			}
			if err := core.Roles.Revoke(cmd.Context(), u.ID, auth.RoleName(role)); err != nil {
				return fmt.Errorf("revoke %s: %w", role, err)
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Revoked %s from %s", strings.ToUpper(role), u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
