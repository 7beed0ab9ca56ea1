package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"saldo/internal/backend"
	"saldo/internal/cli"
	applog "saldo/internal/log"
)

var Version = "dev"

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentCLI)

	open := func(ctx context.Context) (ledgerAdmin, func() error, error) {
		cfg := cli.LoadAndValidateConfig(logger)
		bcfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
		// saldoctl only touches the store; events and identity stay off.
		bcfg.AMQPURL = ""
		bcfg.IdentityURL = ""
		res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
		if err != nil {
			return nil, nil, err
		}
		return res.Ledger, res.Cleanup, nil
	}

	if err := newRootCmd(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "saldoctl",
		Short:         "Maintenance commands for the saldo ledger store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(verifyCmd(open))
	rootCmd.AddCommand(recomputeCmd(open))
	rootCmd.AddCommand(snapshotCmd(open))
	return rootCmd
}
