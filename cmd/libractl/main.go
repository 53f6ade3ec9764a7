// cmd/libractl/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"librarium/internal/config"
	"librarium/internal/logging"
	"librarium/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "libractl",
		Short:        "Maintenance commands for the library database",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config.yaml)")

	open := func(ctx context.Context) (*store.DB, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.New(cfg.LogLevel)
		return store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: 2})
	}

	root.AddCommand(newMigrateCmd(open), newCheckCmd(open))
	return root
}

type opener func(ctx context.Context) (*store.DB, error)

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

type checker interface {
	CheckConsistency(ctx context.Context) (store.Consistency, error)
}

func newCheckCmd(open opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Scan books and borrows for inventory violations",
		Long:  "check exits non-zero when any book has negative copies, an availability flag that disagrees with its copies, or borrows pointing at a missing book.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return runCheck(cmd.Context(), db, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func runCheck(ctx context.Context, c checker, out io.Writer, asJSON bool) error {
	report, err := c.CheckConsistency(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "negative copies:        %d\n", report.NegativeCopies)
		fmt.Fprintf(out, "availability mismatch:  %d\n", report.AvailabilityMismatch)
		fmt.Fprintf(out, "orphan borrows:         %d\n", report.OrphanBorrows)
	}

	if n := report.Violations(); n > 0 {
		return fmt.Errorf("%d inventory violations found", n)
	}
	return nil
}
