package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Redis   RedisConfig
	Chain   ChainConfig
	Oracle  OracleConfig
	Fees    FeeConfig
	Journal JournalConfig
	Server  ServerConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	ChainID           int64  `mapstructure:"chain_id"`
	RPCURL            string `mapstructure:"rpc_url"`
	EscrowContract    string `mapstructure:"escrow_contract"`
	OperatorKey       string `mapstructure:"operator_key"`
	VerifyingContract string `mapstructure:"verifying_contract"`
}

type OracleConfig struct {
	// Backend selects the attestation transport: signed, logproof or
	// lightclient.
	Backend string `mapstructure:"backend"`

	// Guardians are the hex addresses trusted by the signed backend.
	Guardians []string `mapstructure:"guardians"`
	Threshold int      `mapstructure:"threshold"`

	// Confirmations and WindowSec tune the light-client backend.
	Confirmations uint64 `mapstructure:"confirmations"`
	WindowSec     int64  `mapstructure:"window_sec"`
}

type FeeConfig struct {
	Owner     string `mapstructure:"owner"`
	Recipient string `mapstructure:"recipient"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("journal.path", "settler.db")
	v.SetDefault("oracle.backend", "signed")
	v.SetDefault("oracle.threshold", 1)
	v.SetDefault("oracle.confirmations", 6)
	v.SetDefault("oracle.window_sec", 3600)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"chain.chain_id":           "CHAIN_ID",
		"chain.rpc_url":            "RPC_URL",
		"chain.escrow_contract":    "ESCROW_CONTRACT",
		"chain.operator_key":       "OPERATOR_KEY",
		"chain.verifying_contract": "VERIFYING_CONTRACT",
		"oracle.backend":           "ORACLE_BACKEND",
		"oracle.threshold":         "ORACLE_THRESHOLD",
		"oracle.confirmations":     "ORACLE_CONFIRMATIONS",
		"oracle.window_sec":        "ORACLE_WINDOW_SEC",
		"fees.owner":               "FEE_OWNER",
		"fees.recipient":           "FEE_RECIPIENT",
		"journal.path":             "JOURNAL_PATH",
		"server.port":              "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.VerifyingContract, "VERIFYING_CONTRACT"},
		{c.Fees.Owner, "FEE_OWNER"},
		{c.Fees.Recipient, "FEE_RECIPIENT"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	switch c.Oracle.Backend {
	case "signed", "logproof", "lightclient":
	default:
		return fmt.Errorf("unknown oracle backend: %q", c.Oracle.Backend)
	}
	if c.Oracle.Backend == "signed" {
		if len(c.Oracle.Guardians) == 0 {
			return fmt.Errorf("required config missing: oracle guardians")
		}
		if c.Oracle.Threshold < 1 || c.Oracle.Threshold > len(c.Oracle.Guardians) {
			return fmt.Errorf("oracle threshold %d out of range for %d guardians",
				c.Oracle.Threshold, len(c.Oracle.Guardians))
		}
	}
	return nil
}
