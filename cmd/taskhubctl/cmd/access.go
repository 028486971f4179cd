package cmd

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"taskhub.org/internal/auth"
)

func newAccessCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "access",
		Short: "Evaluate the resource access matrix",
	}
	c.AddCommand(newAccessCheckCmd(a), newAccessMatrixCmd())
	return c
}

func newAccessCheckCmd(a *app) *cobra.Command {
	var email, resource string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a user may open a resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, known := auth.ParseResource(resource)
			if !known {
				return fmt.Errorf("unknown resource %q", resource)
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
			ok, err := core.Authz.CanAccess(cmd.Context(), u.ID, res)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok {
				pterm.Success.WithWriter(out).Printfln("%s may open %s", u.Email, res)
			} else {
				pterm.Warning.WithWriter(out).Printfln("%s may not open %s", u.Email, res)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&resource, "resource", "", "resource name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}

func newAccessMatrixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matrix",
		Short: "Print which roles open each resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := auth.DefaultMatrix()
			data := pterm.TableData{{"RESOURCE", "ROLES"}}
			for _, r := range m.Resources() {
				names := make([]string, 0, len(m[r]))
				for _, role := range m[r] {
					names = append(names, string(role))
				}
				data = append(data, []string{string(r), strings.Join(names, " | ")})
			}
			return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
		},
	}
}
