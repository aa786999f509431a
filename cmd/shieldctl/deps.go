package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/external"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	xrate "golang.org/x/time/rate"

	pg "github.com/code-payments/shield-server/pkg/database/postgres"
	"github.com/code-payments/shield-server/pkg/photon"
	"github.com/code-payments/shield-server/pkg/rate"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	journal_postgres "github.com/code-payments/shield-server/pkg/shield/data/journal/postgres"
	"github.com/code-payments/shield-server/pkg/shield/transfer"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
	"github.com/code-payments/shield-server/pkg/solana"
)

type deps struct {
	log *logrus.Entry

	solana   solana.Client
	photon   photon.Client
	db       *sqlx.DB
	pipeline *transfer.Pipeline
}

func loadDeps(ctx context.Context) (*deps, error) {
	d := &deps{
		log: logrus.StandardLogger().WithField("type", "shieldctl"),
	}

	limiter := rate.Limiter(&rate.NoLimiter{})
	if rps := viper.GetFloat64(rpcRequestsPerSecondConfigKey); rps > 0 {
		limiter = rate.NewLocalRateLimiter(xrate.Limit(rps))
	}

	d.solana = solana.New(viper.GetString(solanaRpcUrlConfigKey), limiter)
	d.photon = photon.New(viper.GetString(photonRpcUrlConfigKey), limiter)

	var journalStore journal.Store
	if config := postgresConfig(); config != nil {
		db, err := openJournalDB(ctx, config)
		if err != nil {
			return nil, err
		}
		d.db = db
		journalStore = journal_postgres.New(db.DB)
	} else {
		d.log.Debug("no postgres host configured, transfers are not journaled")
	}

	d.pipeline = transfer.New(d.solana, d.photon, journalStore, transfer.WithEnvConfigs())
	return d, nil
}

// openJournalDB connects with the configured password, or with an RDS IAM auth
// token when postgres_aws_iam is set
func openJournalDB(ctx context.Context, config *pg.Config) (*sqlx.DB, error) {
	if !viper.GetBool(postgresAwsIamConfigKey) {
		return pg.Open(ctx, config)
	}

	awsConfig, err := external.LoadDefaultAWSConfig()
	if err != nil {
		return nil, errors.Wrap(err, "error loading aws config")
	}
	if region := viper.GetString(awsRegionConfigKey); len(region) > 0 {
		awsConfig.Region = region
	}
	return pg.OpenWithAwsIam(ctx, config, awsConfig)
}

func (d *deps) Close() {
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log.WithError(err).Warn("error closing db")
		}
	}
}

// loadWallet reads the configured Solana CLI keypair file
func loadWallet() (*wallet.Keypair, error) {
	path, err := expandHome(viper.GetString(keypairPathConfigKey))
	if err != nil {
		return nil, err
	}

	keypair, err := wallet.LoadKeypairFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading keypair from %s", path)
	}
	return keypair, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "error resolving home directory")
	}
	return filepath.Join(home, path[2:]), nil
}
