package main

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-payments/shield-server/pkg/app"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "shieldctl",
		Short: "Private SOL transfers over ZK compressed accounts",
		Long: `shieldctl moves SOL privately between wallets. Transfers first compress
the sender's visible SOL into a shielded account and then spend shielded
accounts to the recipient, as two separately confirmed transactions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ReadConfigFile(configPath); err != nil {
				return err
			}

			logrus.SetOutput(os.Stderr)
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			level, err := logrus.ParseLevel(strings.ToLower(viper.GetString("log_level")))
			if err != nil {
				return errors.Wrap(err, "invalid log level")
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "shield.yaml", "configuration file path")
	flags.String("log-level", "info", "log level")
	flags.String("solana-rpc-url", "", "Solana JSON-RPC endpoint")
	flags.String("photon-rpc-url", "", "ZK compression indexer endpoint")
	flags.String("keypair", "", "path to a Solana CLI keypair file")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag(solanaRpcUrlConfigKey, flags.Lookup("solana-rpc-url"))
	_ = viper.BindPFlag(photonRpcUrlConfigKey, flags.Lookup("photon-rpc-url"))
	_ = viper.BindPFlag(keypairPathConfigKey, flags.Lookup("keypair"))

	root.AddCommand(
		newBalanceCommand(),
		newSendCommand(),
		newUnshieldCommand(),
		newResumeCommand(),
		newHistoryCommand(),
		newPendingCommand(),
		newServeCommand(),
	)

	return root
}

// withDeps runs fn with a timeout bounded context and loaded dependencies
func withDeps(cmd *cobra.Command, fn func(ctx context.Context, d *deps) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration(requestTimeoutConfigKey))
	defer cancel()

	d, err := loadDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	return fn(ctx, d)
}
