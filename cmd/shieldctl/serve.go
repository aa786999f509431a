package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-payments/shield-server/pkg/app"
	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/shield/server/web"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transfer API, signing with the configured keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := app.LoadBaseConfig()
			if err != nil {
				return err
			}

			metricsProvider, err := app.NewMetricsProvider(config)
			if err != nil {
				return err
			}
			app.ConfigureLogger(config, metricsProvider)

			registry := prometheus.NewRegistry()
			if err := registry.Register(collectors.NewGoCollector()); err != nil {
				return errors.Wrap(err, "error registering go collector")
			}
			if err := metrics.RegisterCollectors(registry); err != nil {
				return errors.Wrap(err, "error registering pipeline collectors")
			}

			keypair, err := loadWallet()
			if err != nil {
				return err
			}

			d, err := loadDeps(metrics.NewContext(context.Background(), metricsProvider))
			if err != nil {
				return err
			}

			server := web.NewServer(
				d.pipeline,
				keypair,
				web.WithNewRelic(metricsProvider),
				web.WithPrometheus(registry),
			)

			logrus.StandardLogger().WithFields(logrus.Fields{
				"type":   "shieldctl",
				"wallet": keypair.String(),
			}).Info("starting transfer api")

			return app.Run(config, server.Handler(), d.Close)
		},
	}

	cmd.Flags().String("listen-address", ":8085", "address the API listens on")
	_ = viper.BindPFlag("listen_address", cmd.Flags().Lookup("listen-address"))
	return cmd
}
