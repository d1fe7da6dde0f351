// Package config provides a reusable loader for ldpos-chain configuration
// files and environment variables, mirroring the teacher's own
// pkg/config package shape: viper-driven, mapstructure-tagged, with a
// single Config value populated by Load.
//
// Version: v0.2.0
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sacOO7/ldpos-chain/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// ForgingCredential pairs a wallet address with either a plaintext or
// encrypted forging passphrase (spec.md §6 forgingCredentials).
type ForgingCredential struct {
	WalletAddress            string `mapstructure:"wallet_address" json:"walletAddress"`
	ForgingPassphrase        string `mapstructure:"forging_passphrase" json:"forgingPassphrase,omitempty"`
	EncryptedForgingPassphrase string `mapstructure:"encrypted_forging_passphrase" json:"encryptedForgingPassphrase,omitempty"`
}

// MinTransactionFees maps a transaction type name to its minimum fee,
// expressed as a decimal string (arbitrary precision, spec.md §9).
type MinTransactionFees map[string]string

// Config represents every recognized option in spec.md §6, all
// optional with the stated defaults applied by Load.
type Config struct {
	NetworkSymbol string `mapstructure:"network_symbol" json:"networkSymbol"`

	ForgingInterval                    time.Duration `mapstructure:"forging_interval" json:"forgingInterval"`
	ForgerCount                        int           `mapstructure:"forger_count" json:"forgerCount"`
	MinForgerBlockSignatureRatio       float64       `mapstructure:"min_forger_block_signature_ratio" json:"minForgerBlockSignatureRatio"`
	BlockSignaturesToProvide           int           `mapstructure:"block_signatures_to_provide" json:"blockSignaturesToProvide"`
	BlockSignaturesToFetch             int           `mapstructure:"block_signatures_to_fetch" json:"blockSignaturesToFetch"`
	BlockSignaturesIndicator           string        `mapstructure:"block_signatures_indicator" json:"blockSignaturesIndicator"`
	FetchBlockLimit                    int           `mapstructure:"fetch_block_limit" json:"fetchBlockLimit"`
	FetchBlockPause                    time.Duration `mapstructure:"fetch_block_pause" json:"fetchBlockPause"`
	FetchBlockEndConfirmations         int           `mapstructure:"fetch_block_end_confirmations" json:"fetchBlockEndConfirmations"`
	ForgingBlockBroadcastDelay         time.Duration `mapstructure:"forging_block_broadcast_delay" json:"forgingBlockBroadcastDelay"`
	ForgingSignatureBroadcastDelay     time.Duration `mapstructure:"forging_signature_broadcast_delay" json:"forgingSignatureBroadcastDelay"`
	AutoSyncForgingKeyIndex            bool          `mapstructure:"auto_sync_forging_key_index" json:"autoSyncForgingKeyIndex"`
	PropagationTimeout                 time.Duration `mapstructure:"propagation_timeout" json:"propagationTimeout"`
	PropagationRandomness              time.Duration `mapstructure:"propagation_randomness" json:"propagationRandomness"`
	TimePollInterval                   time.Duration `mapstructure:"time_poll_interval" json:"timePollInterval"`
	MinTransactionsPerBlock            int           `mapstructure:"min_transactions_per_block" json:"minTransactionsPerBlock"`
	MaxTransactionsPerBlock            int           `mapstructure:"max_transactions_per_block" json:"maxTransactionsPerBlock"`
	MinMultisigMembers                 int           `mapstructure:"min_multisig_members" json:"minMultisigMembers"`
	MaxMultisigMembers                 int           `mapstructure:"max_multisig_members" json:"maxMultisigMembers"`
	MinMultisigRegistrationFeePerMember string       `mapstructure:"min_multisig_registration_fee_per_member" json:"minMultisigRegistrationFeePerMember"`
	MinMultisigTransactionFeePerMember  string       `mapstructure:"min_multisig_transaction_fee_per_member" json:"minMultisigTransactionFeePerMember"`
	PendingTransactionExpiry           time.Duration `mapstructure:"pending_transaction_expiry" json:"pendingTransactionExpiry"`
	PendingTransactionExpiryCheckInterval time.Duration `mapstructure:"pending_transaction_expiry_check_interval" json:"pendingTransactionExpiryCheckInterval"`
	MaxSpendableDigits                 int           `mapstructure:"max_spendable_digits" json:"maxSpendableDigits"`
	MaxTransactionMessageLength        int           `mapstructure:"max_transaction_message_length" json:"maxTransactionMessageLength"`
	MaxVotesPerAccount                 int           `mapstructure:"max_votes_per_account" json:"maxVotesPerAccount"`
	MaxTransactionBackpressurePerAccount int         `mapstructure:"max_transaction_backpressure_per_account" json:"maxTransactionBackpressurePerAccount"`
	MaxPendingTransactionsPerAccount   int           `mapstructure:"max_pending_transactions_per_account" json:"maxPendingTransactionsPerAccount"`
	MaxConsecutiveBlockFetchFailures   int           `mapstructure:"max_consecutive_block_fetch_failures" json:"maxConsecutiveBlockFetchFailures"`
	MaxConsecutiveTransactionFetchFailures int       `mapstructure:"max_consecutive_transaction_fetch_failures" json:"maxConsecutiveTransactionFetchFailures"`
	CatchUpConsensusPollCount          int           `mapstructure:"catch_up_consensus_poll_count" json:"catchUpConsensusPollCount"`
	CatchUpConsensusMinRatio           float64       `mapstructure:"catch_up_consensus_min_ratio" json:"catchUpConsensusMinRatio"`
	ApiLimit                           int           `mapstructure:"api_limit" json:"apiLimit"`
	MaxPublicAPILimit                  int           `mapstructure:"max_public_api_limit" json:"maxPublicAPILimit"`
	MaxPublicAPIOffset                 int           `mapstructure:"max_public_api_offset" json:"maxPublicAPIOffset"`
	MaxPrivateAPILimit                 int           `mapstructure:"max_private_api_limit" json:"maxPrivateAPILimit"`
	MaxPrivateAPIOffset                int           `mapstructure:"max_private_api_offset" json:"maxPrivateAPIOffset"`

	MinTransactionFees MinTransactionFees `mapstructure:"min_transaction_fees" json:"minTransactionFees"`
	ForgingCredentials []ForgingCredential `mapstructure:"forging_credentials" json:"forgingCredentials"`
	GenesisPath        string              `mapstructure:"genesis_path" json:"genesisPath"`
	CryptoClientLibPath string             `mapstructure:"crypto_client_lib_path" json:"cryptoClientLibPath"`

	MetricsListenAddr string `mapstructure:"metrics_listen_addr" json:"metricsListenAddr"`
	LogLevel          string `mapstructure:"log_level" json:"logLevel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network_symbol", "ldpos")
	v.SetDefault("forging_interval", 30*time.Second)
	v.SetDefault("forger_count", 21)
	v.SetDefault("min_forger_block_signature_ratio", 0.6)
	v.SetDefault("block_signatures_to_provide", 12)
	v.SetDefault("block_signatures_to_fetch", 12)
	v.SetDefault("block_signatures_indicator", "bsi")
	v.SetDefault("fetch_block_limit", 10)
	v.SetDefault("fetch_block_pause", 100*time.Millisecond)
	v.SetDefault("fetch_block_end_confirmations", 10)
	v.SetDefault("forging_block_broadcast_delay", 2*time.Second)
	v.SetDefault("forging_signature_broadcast_delay", 5*time.Second)
	v.SetDefault("auto_sync_forging_key_index", true)
	v.SetDefault("propagation_timeout", 15*time.Second)
	v.SetDefault("propagation_randomness", 3*time.Second)
	v.SetDefault("time_poll_interval", 200*time.Millisecond)
	v.SetDefault("min_transactions_per_block", 1)
	v.SetDefault("max_transactions_per_block", 300)
	v.SetDefault("min_multisig_members", 1)
	v.SetDefault("max_multisig_members", 100)
	v.SetDefault("min_multisig_registration_fee_per_member", "100000000")
	v.SetDefault("min_multisig_transaction_fee_per_member", "500000")
	v.SetDefault("pending_transaction_expiry", 24*time.Hour)
	v.SetDefault("pending_transaction_expiry_check_interval", time.Hour)
	v.SetDefault("max_spendable_digits", 25)
	v.SetDefault("max_transaction_message_length", 256)
	v.SetDefault("max_votes_per_account", 5)
	v.SetDefault("max_transaction_backpressure_per_account", 32)
	v.SetDefault("max_pending_transactions_per_account", 64)
	v.SetDefault("max_consecutive_block_fetch_failures", 5)
	v.SetDefault("max_consecutive_transaction_fetch_failures", 3)
	v.SetDefault("catch_up_consensus_poll_count", 6)
	v.SetDefault("catch_up_consensus_min_ratio", 0.5)
	v.SetDefault("api_limit", 100)
	v.SetDefault("max_public_api_limit", 100)
	v.SetDefault("max_public_api_offset", 10000)
	v.SetDefault("max_private_api_limit", 100)
	v.SetDefault("max_private_api_offset", 10000)
	v.SetDefault("metrics_listen_addr", ":9363")
	v.SetDefault("log_level", "info")
}

// Load reads an optional YAML config file (name without extension, e.g.
// "default"/"testnet") from the given search paths plus environment
// variable overrides (prefixed LDPOS_, e.g. LDPOS_FORGER_COUNT), merges
// them onto the documented defaults, and returns the populated Config.
// A missing config file is not an error: every option already has a
// usable default, matching spec.md §6's "all optional".
func Load(name string, searchPaths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) == 0 {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	v.SetEnvPrefix("ldpos")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	if cfg.MinTransactionFees == nil {
		cfg.MinTransactionFees = defaultMinFees()
	}
	return &cfg, nil
}

func defaultMinFees() MinTransactionFees {
	return MinTransactionFees{
		"transfer":                "10000000",
		"vote":                    "10000000",
		"unvote":                  "10000000",
		"registerSigDetails":      "20000000",
		"registerMultisigDetails": "20000000",
		"registerForgingDetails":  "20000000",
		"registerMultisigWallet":  "50000000",
	}
}

// Validate enforces the fatal-on-misconfiguration rules named in
// spec.md §6/§7: minForgerBlockSignatureRatio must be >= 0.5 and
// blockSignaturesToFetch must be >= blockSignaturesToProvide.
func (c *Config) Validate() error {
	if c.MinForgerBlockSignatureRatio < 0.5 {
		return utils.Wrap(errInvalidRatio, "minForgerBlockSignatureRatio")
	}
	if c.BlockSignaturesToFetch < c.BlockSignaturesToProvide {
		return utils.Wrap(errFetchLessThanProvide, "blockSignaturesToFetch")
	}
	return nil
}
