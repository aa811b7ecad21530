package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. A field is read from its full path
// (AXW_NODE_RPC_URL) or, failing that, from its bare tag (RPC_URL).
const EnvPrefix = "AXW"

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Validator ValidatorConfig `yaml:"validator"`
	Chains    ChainsConfig    `yaml:"chains"`
	History   HistoryConfig   `yaml:"history"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Advanced  AdvancedConfig  `yaml:"advanced"`
}

// ============================================================
// NODE / VALIDATOR CONFIG
// ============================================================

type NodeConfig struct {
	RPC string `yaml:"rpc" envconfig:"RPC_URL"`
	LCD string `yaml:"lcd" envconfig:"LCD_URL"`
}

type ValidatorConfig struct {
	Address     string `yaml:"address" envconfig:"VALIDATOR_ADDRESS"`
	Broadcaster string `yaml:"broadcaster" envconfig:"BROADCASTER_ADDRESS"`
	AmpdAddress string `yaml:"ampd_address" envconfig:"AMPD_ADDRESS"`
	AmpdPubKey  string `yaml:"ampd_pub_key" envconfig:"AMPD_PUB_KEY"`
}

// ============================================================
// CHAINS CONFIG
// ============================================================

type ChainsConfig struct {
	EVM  []string          `yaml:"evm" envconfig:"EVM_CHAINS"`
	AMPD []AmpdChainConfig `yaml:"ampd"`
}

// AmpdChainConfig maps an amplifier chain to its contracts. Contract addresses are
// only needed when events do not carry the chain name themselves.
type AmpdChainConfig struct {
	Name             string `yaml:"name"`
	VotingVerifier   string `yaml:"voting_verifier"`
	MultisigProver   string `yaml:"multisig_prover"`
	MultisigContract string `yaml:"multisig"`
}

// ============================================================
// HISTORY CONFIG
// ============================================================

type HistoryConfig struct {
	Blocks          int `yaml:"blocks" envconfig:"BLOCKS_HISTORY_SIZE"`
	Heartbeats      int `yaml:"heartbeats" envconfig:"HEARTBEAT_HISTORY_SIZE"`
	HeartbeatPeriod int `yaml:"heartbeat_period" envconfig:"HEARTBEAT_PERIOD"`
	HeartbeatTryCnt int `yaml:"heartbeat_try_cnt" envconfig:"TRY_CNT"`
	Polls           int `yaml:"polls" envconfig:"MAX_POLL_HISTORY"`
}

// ============================================================
// ALERTS CONFIG
// ============================================================

type AlertsConfig struct {
	Channels      AlertChannels `yaml:"channels"`
	Rules         AlertRules    `yaml:"rules"`
	Cooldown      string        `yaml:"cooldown" envconfig:"ALERT_COOLDOWN"`
	CheckInterval string        `yaml:"check_interval" envconfig:"ALERT_CHECK_INTERVAL"`
	NoBlockDelay  string        `yaml:"no_block_delay" envconfig:"NO_BLOCK_DELAY"`
	EVMMaturity   string        `yaml:"evm_maturity" envconfig:"EVM_MATURITY"`
	AMPDMaturity  string        `yaml:"ampd_maturity" envconfig:"AMPD_MATURITY"`
}

type AlertChannels struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"DISCORD_ENABLED"`
	Webhook string `yaml:"webhook" envconfig:"DISCORD_WEBHOOK"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token   string `yaml:"token" envconfig:"TELEGRAM_TOKEN"`
	ChatID  string `yaml:"chat_id" envconfig:"TELEGRAM_CHAT_ID"`
}

// AlertRules holds thresholds. Counts are plain integers, rates are percent strings ("90%").
type AlertRules struct {
	ConsecutiveMissedBlocks     int    `yaml:"consecutive_missed_blocks" envconfig:"ALERT_MISSED_BLOCKS"`
	ConsecutiveMissedHeartbeats int    `yaml:"consecutive_missed_heartbeats" envconfig:"ALERT_MISSED_HEARTBEATS"`
	SignRate                    string `yaml:"sign_rate" envconfig:"ALERT_SIGN_RATE"`
	HeartbeatRate               string `yaml:"heartbeat_rate" envconfig:"ALERT_HEARTBEAT_RATE"`
	EVMVoteMissed               int    `yaml:"evm_vote_missed" envconfig:"ALERT_EVM_VOTE_MISSED"`
	EVMVoteRate                 string `yaml:"evm_vote_rate" envconfig:"ALERT_EVM_VOTE_RATE"`
	AMPDVoteMissed              int    `yaml:"ampd_vote_missed" envconfig:"ALERT_AMPD_VOTE_MISSED"`
	AMPDVoteRate                string `yaml:"ampd_vote_rate" envconfig:"ALERT_AMPD_VOTE_RATE"`
	AMPDSigningMissed           int    `yaml:"ampd_signing_missed" envconfig:"ALERT_AMPD_SIGNING_MISSED"`
	AMPDSigningRate             string `yaml:"ampd_signing_rate" envconfig:"ALERT_AMPD_SIGNING_RATE"`
}

// ============================================================
// ADVANCED CONFIG
// ============================================================

type AdvancedConfig struct {
	RPCTimeout           string `yaml:"rpc_timeout"`
	SyncPollInterval     string `yaml:"sync_poll_interval"`
	ReconnectInterval    string `yaml:"reconnect_interval"`
	ReconnectMaxAttempts int    `yaml:"reconnect_max_attempts"`
	ReconnectCooldown    string `yaml:"reconnect_cooldown"`
	StallCheckInterval   string `yaml:"stall_check_interval"`
	QuickReconnectAfter  string `yaml:"quick_reconnect_after"`
	LookupRetries        int    `yaml:"lookup_retries"`
	LookupRetryDelay     string `yaml:"lookup_retry_delay"`
	LookupRateLimit      int    `yaml:"lookup_rate_limit"`
	DashboardPort        int    `yaml:"dashboard_port" envconfig:"DASHBOARD_PORT"`
	MetricsPrefix        string `yaml:"metrics_prefix"`
	LogLevel             string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	JSONLogs             bool   `yaml:"json_logs" envconfig:"JSON_LOGS"`
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "1m", "5m", "30s"
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ParsePercent parses percent strings like "90%", "60%"
func ParsePercent(s string) int {
	if s == "" {
		return 0
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return val
}

// EVMEnabled reports whether the EVM poll tracker should run.
func (c *Config) EVMEnabled() bool {
	return c.Validator.Broadcaster != "" && len(c.Chains.EVM) > 0
}

// AMPDEnabled reports whether the AMPD tracker should run.
func (c *Config) AMPDEnabled() bool {
	return c.Validator.AmpdAddress != "" && len(c.Chains.AMPD) > 0
}

// AmpdChainNames returns the configured amplifier chain names.
func (c ChainsConfig) AmpdChainNames() []string {
	names := make([]string, 0, len(c.AMPD))
	for _, ch := range c.AMPD {
		names = append(names, ch.Name)
	}
	return names
}

// Validate checks the settings the monitor cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Node.RPC == "" {
		errs = append(errs, errors.New("node.rpc is required"))
	}
	if c.Validator.Address == "" {
		errs = append(errs, errors.New("validator.address is required"))
	}
	if c.Validator.Broadcaster == "" {
		errs = append(errs, errors.New("validator.broadcaster is required for heartbeat tracking"))
	}
	if c.EVMEnabled() && c.Node.LCD == "" {
		errs = append(errs, errors.New("node.lcd is required for EVM vote tracking"))
	}
	if c.AMPDEnabled() && c.Node.LCD == "" {
		errs = append(errs, errors.New("node.lcd is required for AMPD vote tracking"))
	}
	if c.History.HeartbeatPeriod <= 0 {
		errs = append(errs, fmt.Errorf("history.heartbeat_period must be positive, got %d", c.History.HeartbeatPeriod))
	}
	return errors.Join(errs...)
}

// ============================================================
// LOAD FUNCTION
// ============================================================

func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error decoding config file %v: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	h := &cfg.History
	if h.Blocks == 0 {
		h.Blocks = 100
	}
	if h.Heartbeats == 0 {
		h.Heartbeats = 50
	}
	if h.HeartbeatPeriod == 0 {
		h.HeartbeatPeriod = 50
	}
	if h.HeartbeatTryCnt == 0 {
		h.HeartbeatTryCnt = 10
	}
	if h.Polls == 0 {
		h.Polls = 35
	}

	a := &cfg.Alerts
	if a.Cooldown == "" {
		a.Cooldown = "5m"
	}
	if a.CheckInterval == "" {
		a.CheckInterval = "10s"
	}
	if a.NoBlockDelay == "" {
		a.NoBlockDelay = "2m"
	}
	if a.EVMMaturity == "" {
		a.EVMMaturity = "5m"
	}
	if a.AMPDMaturity == "" {
		a.AMPDMaturity = "2m"
	}
	r := &a.Rules
	if r.ConsecutiveMissedBlocks == 0 {
		r.ConsecutiveMissedBlocks = 5
	}
	if r.ConsecutiveMissedHeartbeats == 0 {
		r.ConsecutiveMissedHeartbeats = 1
	}
	if r.SignRate == "" {
		r.SignRate = "95%"
	}
	if r.HeartbeatRate == "" {
		r.HeartbeatRate = "90%"
	}
	if r.EVMVoteMissed == 0 {
		r.EVMVoteMissed = 3
	}
	if r.EVMVoteRate == "" {
		r.EVMVoteRate = "90%"
	}
	if r.AMPDVoteMissed == 0 {
		r.AMPDVoteMissed = 3
	}
	if r.AMPDVoteRate == "" {
		r.AMPDVoteRate = "90%"
	}
	if r.AMPDSigningMissed == 0 {
		r.AMPDSigningMissed = 3
	}
	if r.AMPDSigningRate == "" {
		r.AMPDSigningRate = "90%"
	}

	adv := &cfg.Advanced
	if adv.RPCTimeout == "" {
		adv.RPCTimeout = "5s"
	}
	if adv.SyncPollInterval == "" {
		adv.SyncPollInterval = "5s"
	}
	if adv.ReconnectInterval == "" {
		adv.ReconnectInterval = "5s"
	}
	if adv.ReconnectMaxAttempts == 0 {
		adv.ReconnectMaxAttempts = 10
	}
	if adv.ReconnectCooldown == "" {
		adv.ReconnectCooldown = "10s"
	}
	if adv.StallCheckInterval == "" {
		adv.StallCheckInterval = "5s"
	}
	if adv.QuickReconnectAfter == "" {
		adv.QuickReconnectAfter = "10s"
	}
	if adv.LookupRetries == 0 {
		adv.LookupRetries = 3
	}
	if adv.LookupRetryDelay == "" {
		adv.LookupRetryDelay = "5s"
	}
	if adv.LookupRateLimit == 0 {
		adv.LookupRateLimit = 10
	}
	if adv.DashboardPort == 0 {
		adv.DashboardPort = 8888
	}
	if adv.MetricsPrefix == "" {
		adv.MetricsPrefix = "axelar"
	}
	if adv.LogLevel == "" {
		adv.LogLevel = "info"
	}
}
