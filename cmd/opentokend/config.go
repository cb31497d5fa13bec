package main

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/MrEthical07/opentoken"
	"github.com/MrEthical07/opentoken/mail"
	"github.com/MrEthical07/opentoken/store/engines"
)

const envPrefix = "OPENTOKEN"

// Config is the daemon configuration. Every key can be set in the config
// file or through OPENTOKEN_<SECTION>_<KEY>, e.g. OPENTOKEN_STORE_ENGINE.
type Config struct {
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`

	Store  engines.Config   `mapstructure:"store"`
	Engine opentoken.Config `mapstructure:"engine"`

	// SMTP is used when Host is set; otherwise mails are logged.
	SMTP mail.SMTPConfig `mapstructure:"smtp"`
	// Kafka receives audit events when Brokers is set; otherwise they are
	// written to stdout as JSON lines.
	Kafka opentoken.KafkaConfig `mapstructure:"kafka"`
	// LimiterRedis shares the login throttle across replicas.
	LimiterRedis []string `mapstructure:"limiter_redis"`

	// Pepper and LinkSigningKey fill the byte-slice secrets of Engine.
	Pepper         string `mapstructure:"pepper"`
	LinkSigningKey string `mapstructure:"link_signing_key"`
}

// engineConfig returns Engine with the string secrets applied.
func (c Config) engineConfig() opentoken.Config {
	out := c.Engine
	if c.Pepper != "" {
		out.Hash.AccountID.Salt = []byte(c.Pepper)
	}
	if c.LinkSigningKey != "" {
		out.Link.SigningKey = []byte(c.LinkSigningKey)
	}
	return out
}

func defaultConfig() Config {
	engine := opentoken.DefaultConfig()
	engine.Metrics.Enabled = true
	engine.Metrics.EnableLatencyHistograms = true
	engine.Audit.Enabled = true
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
		Store:    engines.Config{Engine: engines.Memory},
		Engine:   engine,
		Kafka:    opentoken.KafkaConfig{Topic: "opentoken.audit"},
	}
}

// loadConfig layers path (optional) and the environment over the defaults.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaultConfig()
	bindEnvs(v, reflect.TypeOf(cfg), "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// bindEnvs registers every leaf key so AutomaticEnv values reach Unmarshal
// even when the file does not mention them. Byte slices are skipped; the
// slice decode hook would split them on commas.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key)
			continue
		}
		if f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Uint8 {
			continue
		}
		_ = v.BindEnv(key)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
