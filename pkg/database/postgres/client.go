package pg

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/rdsutils"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/newrelic/go-agent/v3/integrations/nrpgx"
)

const (
	// DriverName is the pgx driver instrumented with New Relic
	DriverName = "nrpgx"

	defaultConnectTimeout = 10 * time.Second
)

type Config struct {
	User               string
	Host               string
	Password           string
	Port               int
	DbName             string
	SSLMode            string
	MaxOpenConnections int
	MaxIdleConnections int
}

// DSN returns the connection url for the config
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.DbName,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return dsn.String()
}

// Open returns a verified connection pool using username/password credentials
func Open(ctx context.Context, config *Config) (*sqlx.DB, error) {
	db, err := sql.Open(DriverName, config.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "error opening db connection")
	}

	if config.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(config.MaxOpenConnections)
	}
	if config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(config.MaxIdleConnections)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "error connecting to db")
	}

	return sqlx.NewDb(db, "pgx"), nil
}

// OpenWithAwsIam is Open with an RDS IAM auth token in place of the configured
// password. Only provisioned Aurora clusters support IAM auth, and tokens are
// only accepted over TLS.
//
// https://docs.aws.amazon.com/AmazonRDS/latest/AuroraUserGuide/UsingWithRDS.IAMDBAuth.Connecting.Go.html
func OpenWithAwsIam(ctx context.Context, config *Config, awsConfig aws.Config) (*sqlx.DB, error) {
	rdsClient := rds.New(awsConfig)

	endpoint := fmt.Sprintf("%s:%d", config.Host, config.Port)
	authToken, err := rdsutils.BuildAuthToken(endpoint, rdsClient.Region, config.User, rdsClient.Credentials)
	if err != nil {
		return nil, errors.Wrap(err, "error building rds auth token")
	}

	withToken := *config
	withToken.Password = authToken
	if withToken.SSLMode == "" || withToken.SSLMode == "disable" {
		withToken.SSLMode = "require"
	}
	return Open(ctx, &withToken)
}
