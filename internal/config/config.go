// Package config resolves runtime settings from flags, LEDGER_* environment
// variables and an optional config file.
package config

import (
	"strings"
	"time"

	"github.com/ortelius/pdvd-ledger/database"
	"github.com/ortelius/pdvd-ledger/util"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration
type Config struct {
	Port string

	Database database.Options

	KafkaBrokers    []string
	KafkaGroupID    string
	ScanTopic       string
	TransitionTopic string

	RedisAddr    string
	RedisChannel string

	PolicyFile string

	Workers        int
	RetryAttempts  int
	StorageTimeout time.Duration
}

// New returns a viper instance with defaults and env bindings in place
func New() *viper.Viper {
	v := viper.New()

	db := database.DefaultOptions()
	v.SetDefault("port", "3000")
	v.SetDefault("arango.url", db.URL)
	v.SetDefault("arango.user", db.User)
	v.SetDefault("arango.pass", db.Password)
	v.SetDefault("arango.db", db.Database)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.group", "vulnledger-reconciler")
	v.SetDefault("kafka.scan_topic", "scan-results")
	v.SetDefault("kafka.transition_topic", "vulnerability-transitions")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel", "vulnerability-transitions")
	v.SetDefault("policy.file", "")
	v.SetDefault("workers", 8)
	v.SetDefault("retry.attempts", util.DefaultRetryAttempts)
	v.SetDefault("storage.timeout", "30s")

	// LEDGER_KAFKA_BROKERS, LEDGER_REDIS_ADDR, ...
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads a config file when one is given and resolves every setting
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		Port: v.GetString("port"),
		Database: database.Options{
			URL:      v.GetString("arango.url"),
			User:     v.GetString("arango.user"),
			Password: v.GetString("arango.pass"),
			Database: v.GetString("arango.db"),
		},
		KafkaBrokers:    util.SplitAndTrim(v.GetString("kafka.brokers")),
		KafkaGroupID:    v.GetString("kafka.group"),
		ScanTopic:       v.GetString("kafka.scan_topic"),
		TransitionTopic: v.GetString("kafka.transition_topic"),
		RedisAddr:       v.GetString("redis.addr"),
		RedisChannel:    v.GetString("redis.channel"),
		PolicyFile:      v.GetString("policy.file"),
		Workers:         v.GetInt("workers"),
		RetryAttempts:   v.GetInt("retry.attempts"),
		StorageTimeout:  v.GetDuration("storage.timeout"),
	}, nil
}

// Retry turns the retry settings into a util.RetryConfig
func (c Config) Retry() util.RetryConfig {
	cfg := util.DefaultRetryConfig()
	if c.RetryAttempts > 0 {
		cfg.Attempts = uint64(c.RetryAttempts)
	}
	if c.StorageTimeout > 0 {
		cfg.Timeout = c.StorageTimeout
	}
	return cfg
}
