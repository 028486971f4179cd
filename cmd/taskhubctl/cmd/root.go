// Package cmd implements the taskhubctl command tree.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"taskhub.org/internal/config"
	"taskhub.org/internal/identity"
	"taskhub.org/internal/obs"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	lookup      envconfig.Lookuper
	dsn         string
	dumpMetrics bool
	cfg         config.Config
	stdin       *bufio.Reader
}

func (a *app) core(ctx context.Context) (*identity.Core, error) {
	return identity.New(ctx, a.cfg)
}

// NewRootCmd builds the command tree. Settings are read through lookup.
func NewRootCmd(lookup envconfig.Lookuper) *cobra.Command {
	a := &app{lookup: lookup}

	root := &cobra.Command{
		Use:   "taskhubctl",
		Short: "taskhub identity administration",
		Long: `taskhubctl manages the taskhub identity store: schema migrations, user
accounts, role assignments and the access log. Settings come from TASKHUB_*
environment variables; --dsn overrides TASKHUB_DB_DSN.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(cmd.Context(), a.lookup)
			if err != nil {
				return err
			}
			if a.dsn != "" {
				cfg.DSN = a.dsn
			}
			a.cfg = cfg
			obs.InitLogger(obs.LogOptions{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: cmd.ErrOrStderr()})
			obs.Init()
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !a.dumpMetrics {
				return nil
			}
			return writeMetrics(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.dsn, "dsn", "", "database DSN, a PostgreSQL URL or a SQLite path (overrides TASKHUB_DB_DSN)")
	root.PersistentFlags().BoolVar(&a.dumpMetrics, "metrics", false, "print collected metrics to stderr when the command finishes")

	root.AddCommand(
		newMigrateCmd(a),
		newUserCmd(a),
		newRoleCmd(a),
		newAccessCmd(a),
		newAuditCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree against the process environment.
func Execute() {
	if err := NewRootCmd(envconfig.OsLookuper()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func writeMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "taskhub_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// secret returns the flag value, or the first line of stdin when the flag is
// empty.
func (a *app) secret(cmd *cobra.Command, flagValue, what string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if a.stdin == nil {
		a.stdin = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := a.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", what, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%s is required (flag or stdin)", what)
	}
	return line, nil
}
