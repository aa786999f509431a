package transfer

import (
	"time"

	"github.com/mr-tron/base58"

	"github.com/code-payments/shield-server/pkg/config"
	"github.com/code-payments/shield-server/pkg/config/env"
	"github.com/code-payments/shield-server/pkg/config/memory"
	"github.com/code-payments/shield-server/pkg/config/wrapper"
	"github.com/code-payments/shield-server/pkg/solana"
	"github.com/code-payments/shield-server/pkg/solana/lightsystem"
)

const (
	envConfigPrefix = "SHIELD_"

	ComputeUnitLimitConfigEnvName = envConfigPrefix + "COMPUTE_UNIT_LIMIT"
	defaultComputeUnitLimit       = 1_000_000

	// Priority fee in micro-lamports per compute unit, zero to omit it
	ComputeUnitPriceConfigEnvName = envConfigPrefix + "COMPUTE_UNIT_PRICE"
	defaultComputeUnitPrice       = 0

	CommitmentConfigEnvName = envConfigPrefix + "COMMITMENT"
	defaultCommitment       = "confirmed"

	MaxSubmitAttemptsConfigEnvName = envConfigPrefix + "MAX_SUBMIT_ATTEMPTS"
	defaultMaxSubmitAttempts       = 3

	OutputStateTreeConfigEnvName = envConfigPrefix + "OUTPUT_STATE_TREE"

	NullifierQueueConfigEnvName = envConfigPrefix + "NULLIFIER_QUEUE"

	JournalEnabledConfigEnvName = envConfigPrefix + "JOURNAL_ENABLED"
	defaultJournalEnabled       = true

	ConfirmationPollIntervalConfigEnvName = envConfigPrefix + "CONFIRMATION_POLL_INTERVAL"

	IndexerSyncTimeoutConfigEnvName = envConfigPrefix + "INDEXER_SYNC_TIMEOUT"
	defaultIndexerSyncTimeout       = 30 * time.Second
)

var (
	defaultOutputStateTree          = base58.Encode(lightsystem.DEFAULT_STATE_TREE_ADDRESS)
	defaultNullifierQueue           = base58.Encode(lightsystem.DEFAULT_NULLIFIER_QUEUE_ADDRESS)
	defaultConfirmationPollInterval = solana.PollRate
)

type conf struct {
	computeUnitLimit         config.Uint64
	computeUnitPrice         config.Uint64
	commitment               config.String
	maxSubmitAttempts        config.Uint64
	outputStateTree          config.String
	nullifierQueue           config.String
	journalEnabled           config.Bool
	confirmationPollInterval config.Duration
	indexerSyncTimeout       config.Duration
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			computeUnitLimit:         env.NewUint64Config(ComputeUnitLimitConfigEnvName, defaultComputeUnitLimit),
			computeUnitPrice:         env.NewUint64Config(ComputeUnitPriceConfigEnvName, defaultComputeUnitPrice),
			commitment:               env.NewStringConfig(CommitmentConfigEnvName, defaultCommitment),
			maxSubmitAttempts:        env.NewUint64Config(MaxSubmitAttemptsConfigEnvName, defaultMaxSubmitAttempts),
			outputStateTree:          env.NewStringConfig(OutputStateTreeConfigEnvName, defaultOutputStateTree),
			nullifierQueue:           env.NewStringConfig(NullifierQueueConfigEnvName, defaultNullifierQueue),
			journalEnabled:           env.NewBoolConfig(JournalEnabledConfigEnvName, defaultJournalEnabled),
			confirmationPollInterval: env.NewDurationConfig(ConfirmationPollIntervalConfigEnvName, defaultConfirmationPollInterval),
			indexerSyncTimeout:       env.NewDurationConfig(IndexerSyncTimeoutConfigEnvName, defaultIndexerSyncTimeout),
		}
	}
}

// ConfigOverrides are explicit values for tests and embedders. Zero values
// fall back to defaults.
type ConfigOverrides struct {
	ComputeUnitLimit         uint64
	ComputeUnitPrice         uint64
	Commitment               string
	MaxSubmitAttempts        uint64
	OutputStateTree          string
	NullifierQueue           string
	DisableJournal           bool
	ConfirmationPollInterval time.Duration
	IndexerSyncTimeout       time.Duration
}

// WithConfigOverrides returns configuration backed by in memory values
func WithConfigOverrides(overrides ConfigOverrides) ConfigProvider {
	return func() *conf {
		return &conf{
			computeUnitLimit:         wrapper.NewUint64Config(overrideOrNil(overrides.ComputeUnitLimit), defaultComputeUnitLimit),
			computeUnitPrice:         wrapper.NewUint64Config(overrideOrNil(overrides.ComputeUnitPrice), defaultComputeUnitPrice),
			commitment:               wrapper.NewStringConfig(overrideOrNil(overrides.Commitment), defaultCommitment),
			maxSubmitAttempts:        wrapper.NewUint64Config(overrideOrNil(overrides.MaxSubmitAttempts), defaultMaxSubmitAttempts),
			outputStateTree:          wrapper.NewStringConfig(overrideOrNil(overrides.OutputStateTree), defaultOutputStateTree),
			nullifierQueue:           wrapper.NewStringConfig(overrideOrNil(overrides.NullifierQueue), defaultNullifierQueue),
			journalEnabled:           wrapper.NewBoolConfig(memory.NewConfig(!overrides.DisableJournal), defaultJournalEnabled),
			confirmationPollInterval: wrapper.NewDurationConfig(overrideOrNil(overrides.ConfirmationPollInterval), defaultConfirmationPollInterval),
			indexerSyncTimeout:       wrapper.NewDurationConfig(overrideOrNil(overrides.IndexerSyncTimeout), defaultIndexerSyncTimeout),
		}
	}
}

func overrideOrNil[T comparable](value T) config.Config {
	var zero T
	if value == zero {
		return config.NoopConfig
	}
	return memory.NewConfig(value)
}
