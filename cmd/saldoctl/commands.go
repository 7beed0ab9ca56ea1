package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"saldo/internal/core"
)

// ledgerAdmin is the part of the ledger service saldoctl drives.
type ledgerAdmin interface {
	Verify(ctx context.Context, userID string) ([]string, error)
	VerifyAll(ctx context.Context) (map[string][]string, error)
	Recompute(ctx context.Context, userID string) (*core.User, error)
	Snapshot(ctx context.Context, userID string, year, month int) (core.MonthSnapshot, error)
}

// opener builds the ledger on first use so --help never touches the store.
type opener func(ctx context.Context) (ledgerAdmin, func() error, error)

var errInconsistent = errors.New("ledger inconsistencies found")

func withLedger(cmd *cobra.Command, open opener, fn func(context.Context, ledgerAdmin) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ledger, closeFn, err := open(ctx)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if closeFn != nil {
			_ = closeFn()
		}
	}()
	return fn(ctx, ledger)
}

func verifyCmd(open opener) *cobra.Command {
	var (
		userID string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that savings and balances match the stored entries",
		Long: `Verify recomputes every monthly saving and the overall balance from the
stored entries and reports any mismatch. It exits non-zero when at least one
user is inconsistent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (userID == "") == !all {
				return errors.New("exactly one of --user or --all is required")
			}
			return withLedger(cmd, open, func(ctx context.Context, l ledgerAdmin) error {
				report := map[string][]string{}
				if all {
					r, err := l.VerifyAll(ctx)
					if err != nil {
						return err
					}
					report = r
				} else {
					problems, err := l.Verify(ctx, userID)
					if err != nil {
						return err
					}
					if len(problems) > 0 {
						report[userID] = problems
					}
				}
				if len(report) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "OK")
					return nil
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return errInconsistent
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to check")
	cmd.Flags().BoolVar(&all, "all", false, "Check every stored user")
	return cmd
}

func recomputeCmd(open opener) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild savings and balance for a user from the stored entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, open, func(ctx context.Context, l ledgerAdmin) error {
				u, err := l.Recompute(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s balance %s (version %d)\n", u.UserID, u.Balance, u.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to recompute")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func snapshotCmd(open opener) *cobra.Command {
	var (
		userID      string
		year, month int
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print one month of a user's ledger as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, open, func(ctx context.Context, l ledgerAdmin) error {
				snap, err := l.Snapshot(ctx, userID, year, month)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	cmd.Flags().IntVarP(&year, "year", "y", 0, "Calendar year")
	cmd.Flags().IntVarP(&month, "month", "m", 0, "Month, 1-12")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
