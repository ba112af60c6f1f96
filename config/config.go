package config

import (
	"fmt"
	"strings"
	"time"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log      Logger   `mapstructure:"logger"`
	API      API      `mapstructure:"api"`
	Runner   Runner   `mapstructure:"runner"`
	Notifier Notifier `mapstructure:"notifier"`
	Cache    Cache    `mapstructure:"cache"`
	Alert    Alert    `mapstructure:"alert"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type API struct {
	Port int `mapstructure:"port" validate:"gte=1,lte=65535"`
}

type Runner struct {
	PollTimeout        time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	PollInterval       string        `mapstructure:"poll_interval" validate:"required"`
	MaxConcurrency     int           `mapstructure:"max_concurrency" validate:"gte=1"`
	TermGracePeriod    time.Duration `mapstructure:"term_grace_period" validate:"gt=0"`
	FailedAreCompleted bool          `mapstructure:"failed_are_completed"`
}

type Notifier struct {
	WebhookURL       string        `mapstructure:"webhook_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRequestPerMin int           `mapstructure:"max_request_per_min"`
}

type Cache struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type Alert struct {
	WebhookURL string `mapstructure:"webhook_url"`
	MinLevel   string `mapstructure:"min_level"`
}

func Load() (*Config, error) {
	// .env is optional, real deployments use environment variables.
	_ = godotenv.Load()

	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := goValidator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.encoding", "json")
	viper.SetDefault("api.port", 8090)
	viper.SetDefault("runner.poll_timeout", time.Second)
	viper.SetDefault("runner.poll_interval", "@every 1s")
	viper.SetDefault("runner.max_concurrency", 16)
	viper.SetDefault("runner.term_grace_period", time.Second)
	viper.SetDefault("runner.failed_are_completed", false)
	viper.SetDefault("notifier.timeout", 10*time.Second)
	viper.SetDefault("notifier.max_request_per_min", 60)
	viper.SetDefault("cache.default_expiration", time.Hour)
	viper.SetDefault("cache.cleanup_interval", 10*time.Minute)
	viper.SetDefault("alert.min_level", "error")
}
