package main

import (
	"time"

	"github.com/spf13/viper"

	pg "github.com/code-payments/shield-server/pkg/database/postgres"
)

const (
	solanaRpcUrlConfigKey         = "solana_rpc_url"
	photonRpcUrlConfigKey         = "photon_rpc_url"
	keypairPathConfigKey          = "keypair_path"
	rpcRequestsPerSecondConfigKey = "rpc_requests_per_second"
	requestTimeoutConfigKey       = "request_timeout"

	postgresHostConfigKey     = "postgres_host"
	postgresPortConfigKey     = "postgres_port"
	postgresUserConfigKey     = "postgres_user"
	postgresPasswordConfigKey = "postgres_password"
	postgresDbNameConfigKey   = "postgres_db_name"
	postgresSSLModeConfigKey  = "postgres_ssl_mode"
	postgresMaxOpenConfigKey  = "postgres_max_open_connections"
	postgresMaxIdleConfigKey  = "postgres_max_idle_connections"
	postgresAwsIamConfigKey   = "postgres_aws_iam"
	awsRegionConfigKey        = "aws_region"
)

func init() {
	viper.SetDefault(solanaRpcUrlConfigKey, "http://localhost:8899")
	viper.SetDefault(photonRpcUrlConfigKey, "http://localhost:8784")
	viper.SetDefault(keypairPathConfigKey, "~/.config/solana/id.json")
	viper.SetDefault(rpcRequestsPerSecondConfigKey, 10.0)
	viper.SetDefault(requestTimeoutConfigKey, 5*time.Minute)
	viper.SetDefault(postgresPortConfigKey, 5432)
	viper.SetDefault(postgresSSLModeConfigKey, "disable")
	viper.SetDefault(postgresMaxOpenConfigKey, 10)
	viper.SetDefault(postgresMaxIdleConfigKey, 5)

	_ = viper.BindEnv(solanaRpcUrlConfigKey, "SOLANA_RPC_URL")
	_ = viper.BindEnv(photonRpcUrlConfigKey, "PHOTON_RPC_URL")
	_ = viper.BindEnv(keypairPathConfigKey, "KEYPAIR_PATH")
	_ = viper.BindEnv(rpcRequestsPerSecondConfigKey, "RPC_REQUESTS_PER_SECOND")
	_ = viper.BindEnv(requestTimeoutConfigKey, "REQUEST_TIMEOUT")

	_ = viper.BindEnv(postgresHostConfigKey, "POSTGRES_HOST")
	_ = viper.BindEnv(postgresPortConfigKey, "POSTGRES_PORT")
	_ = viper.BindEnv(postgresUserConfigKey, "POSTGRES_USER")
	_ = viper.BindEnv(postgresPasswordConfigKey, "POSTGRES_PASSWORD")
	_ = viper.BindEnv(postgresDbNameConfigKey, "POSTGRES_DB_NAME")
	_ = viper.BindEnv(postgresSSLModeConfigKey, "POSTGRES_SSL_MODE")
	_ = viper.BindEnv(postgresMaxOpenConfigKey, "POSTGRES_MAX_OPEN_CONNECTIONS")
	_ = viper.BindEnv(postgresMaxIdleConfigKey, "POSTGRES_MAX_IDLE_CONNECTIONS")
	_ = viper.BindEnv(postgresAwsIamConfigKey, "POSTGRES_AWS_IAM")
	_ = viper.BindEnv(awsRegionConfigKey, "AWS_REGION")
}

// postgresConfig returns the journal database config, or nil when no host is
// configured and runs aren't journaled.
func postgresConfig() *pg.Config {
	host := viper.GetString(postgresHostConfigKey)
	if len(host) == 0 {
		return nil
	}

	return &pg.Config{
		Host:               host,
		Port:               viper.GetInt(postgresPortConfigKey),
		User:               viper.GetString(postgresUserConfigKey),
		Password:           viper.GetString(postgresPasswordConfigKey),
		DbName:             viper.GetString(postgresDbNameConfigKey),
		SSLMode:            viper.GetString(postgresSSLModeConfigKey),
		MaxOpenConnections: viper.GetInt(postgresMaxOpenConfigKey),
		MaxIdleConnections: viper.GetInt(postgresMaxIdleConfigKey),
	}
}
