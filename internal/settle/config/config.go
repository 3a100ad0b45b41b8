// Package config loads settler settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

const (
	DriverKafka = "kafka"
	DriverAMQP  = "amqp"
)

type Config struct {
	QueueDriver       string `mapstructure:"QUEUE_DRIVER"`
	QueueURL          string `mapstructure:"QUEUE_URL"`
	QueueTopic        string `mapstructure:"QUEUE_TOPIC"`
	QueueSubscription string `mapstructure:"QUEUE_SUBSCRIPTION"`

	RPCURL            string        `mapstructure:"RPC_URL"`
	RPCConnectTimeout time.Duration `mapstructure:"RPC_CONNECT_TIMEOUT"`
	RPCTimeout        time.Duration `mapstructure:"RPC_TIMEOUT"`

	// BatchSize is the settlement worker count.
	BatchSize int `mapstructure:"BATCH_SIZE"`

	TokenA string `mapstructure:"TOKEN_A"`
	TokenB string `mapstructure:"TOKEN_B"`
	TokenC string `mapstructure:"TOKEN_C"`
	TokenD string `mapstructure:"TOKEN_D"`
	TokenE string `mapstructure:"TOKEN_E"`

	DBURL          string `mapstructure:"DB_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBEnsureSchema bool   `mapstructure:"DB_ENSURE_SCHEMA"`

	MetricsAddr     string `mapstructure:"METRICS_ADDR"`
	SpoolDriver     string `mapstructure:"SPOOL_DRIVER"`
	SpoolPath       string `mapstructure:"SPOOL_PATH"`
	SerializeSender bool   `mapstructure:"SERIALIZE_SENDER"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
}

var required = []string{
	"QUEUE_URL", "QUEUE_TOPIC", "QUEUE_SUBSCRIPTION",
	"RPC_URL", "BATCH_SIZE",
	"TOKEN_A", "TOKEN_B", "TOKEN_C", "TOKEN_D", "TOKEN_E",
	"DB_URL",
}

var defaults = map[string]any{
	"QUEUE_DRIVER":        DriverKafka,
	"RPC_CONNECT_TIMEOUT": 5 * time.Second,
	"RPC_TIMEOUT":         60 * time.Second,
	"DB_MAX_CONNS":        100,
	"DB_ENSURE_SCHEMA":    false,
	"METRICS_ADDR":        ":9100",
	"SPOOL_DRIVER":        "file",
	"SPOOL_PATH":          "./data/poison.spool",
	"SERIALIZE_SENDER":    false,
	"LOG_LEVEL":           "warn",
}

// Load reads the environment, falling back to path/.env when present. All
// missing required keys are reported in one error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range required {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("config: read .env: %w", err)
		}
	}

	var missing []string
	for _, k := range required {
		if strings.TrimSpace(v.GetString(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, c.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be > 0, got %d", c.BatchSize))
	}
	switch c.QueueDriver {
	case DriverKafka, DriverAMQP:
	default:
		errs = append(errs, fmt.Errorf("QUEUE_DRIVER must be %s or %s, got %q", DriverKafka, DriverAMQP, c.QueueDriver))
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be > 0, got %d", c.DBMaxConns))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Tokens maps each token code to its configured contract address.
func (c Config) Tokens() map[model.TokenCode]string {
	return map[model.TokenCode]string{
		model.TokenA: c.TokenA,
		model.TokenB: c.TokenB,
		model.TokenC: c.TokenC,
		model.TokenD: c.TokenD,
		model.TokenE: c.TokenE,
	}
}

// Prefetch is the broker-side delivery window, sized to the dispatch channel.
func (c Config) Prefetch() int { return 2 * c.BatchSize }
