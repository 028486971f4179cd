package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"taskhub.org/internal/auth"
	"taskhub.org/internal/identity"
)

func newUserCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	c.AddCommand(
		newUserCreateCmd(a),
		newUserShowCmd(a),
		newUserPasswdCmd(a),
		newUserLoginCmd(a),
		newUserActiveCmd(a, "deactivate", false),
		newUserActiveCmd(a, "activate", true),
	)
	return c
}

func newUserCreateCmd(a *app) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a user and its credential",
		Long: `Provision an active user with a password credential. The password is read
from --password or, when omitted, from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.secret(cmd, password, "password")
			if err != nil {
				return err
			}
			core, err := a.core(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			u, err := core.Auth.CreateUser(cmd.Context(), name, email, pw)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Created %s <%s> id=%s", u.DisplayName, u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "initial password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserShowCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a user and its effective roles",
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
			roles, err := core.Roles.EffectiveRoles(cmd.Context(), u.ID)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(roles))
			for _, r := range roles.Names() {
				names = append(names, string(r))
			}
			data := pterm.TableData{
				{"ID", u.ID},
				{"NAME", u.DisplayName},
				{"EMAIL", u.Email},
				{"ACTIVE", fmt.Sprint(u.Active)},
				{"CREATED", u.CreatedAt.Format(time.RFC3339)},
				{"ROLES", strings.Join(names, ", ")},
				{"LEVEL", auth.HighestPrivilege(roles).String()},
			}
			return pterm.DefaultTable.WithWriter(cmd.OutOrStdout()).WithData(data).Render()
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserPasswdCmd(a *app) *cobra.Command {
	var email, current, next string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change a user's password",
		Long: `Change a password after verifying the current one. Secrets left off the
command line are read from stdin, current first, one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := a.secret(cmd, current, "current password")
			if err != nil {
				return err
			}
			nxt, err := a.secret(cmd, next, "new password")
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
			ok, err := core.Auth.ChangePassword(cmd.Context(), u.ID, cur, nxt)
			if err != nil {
				return fmt.Errorf("change password: %w", err)
			}
			if !ok {
				return errors.New("current password does not match")
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Password changed for %s", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&current, "current", "", "current password")
	cmd.Flags().StringVar(&next, "new", "", "new password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print what the session may open",
		Long: `Run the desktop login flow: authenticate, start a session, list the
resources the session user can reach, then log out. Every step is written to
the access log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.secret(cmd, password, "password")
			if err != nil {
				return err
			}
			core, err := a.core(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			res := <-core.LoginAsync(cmd.Context(), email, pw)
			if res.Err != nil {
				if errors.Is(res.Err, auth.ErrAuthFailed) {
					return errors.New("invalid credentials")
				}
				return res.Err
			}
			defer core.Logout()

			return printSession(cmd, core, res)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func printSession(cmd *cobra.Command, core *identity.Core, res identity.LoginResult) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	level, err := core.Authz.HighestPrivilegeLevel(ctx)
	if err != nil {
		return err
	}
	pterm.Success.WithWriter(out).Printfln("Signed in as %s (%s), session %s", res.User.DisplayName, level, res.SessionID)

	data := pterm.TableData{{"RESOURCE", "ACCESS"}}
	for _, r := range auth.DefaultMatrix().Resources() {
		ok, err := core.CanAccess(ctx, r)
		if err != nil {
			return err
		}
		access := "denied"
		if ok {
			access = "granted"
		}
		data = append(data, []string{string(r), access})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}

func newUserActiveCmd(a *app, use string, active bool) *cobra.Command {
	var email string
	short := "Disable a user account"
	if active {
		short = "Re-enable a user account"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
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
			if err := core.SetUserActive(cmd.Context(), u.ID, active); err != nil {
				return fmt.Errorf("%s %s: %w", use, u.Email, err)
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("%s: active=%t", u.Email, active)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
