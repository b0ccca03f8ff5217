package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gregtusar/pairs/pkg/binance"
	"github.com/gregtusar/pairs/pkg/secrets"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"google.golang.org/api/option"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GCP       GCPConfig       `mapstructure:"gcp"`

	// Trading is the live key-value store behind the "trading" section.
	Trading *TradingStore `mapstructure:"-"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type BinanceConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	SecretKey         string        `mapstructure:"secret_key"`
	Testnet           bool          `mapstructure:"testnet"`
	BaseURL           string        `mapstructure:"base_url"`
	StreamURL         string        `mapstructure:"stream_url"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MarkPriceStream   bool          `mapstructure:"mark_price_stream"`
	MarkPriceMaxAge   time.Duration `mapstructure:"mark_price_max_age"`
}

// Client converts the section into the exchange client's configuration.
func (b BinanceConfig) Client() binance.Config {
	return binance.Config{
		APIKey:            b.APIKey,
		SecretKey:         b.SecretKey,
		BaseURL:           b.BaseURL,
		Testnet:           b.Testnet,
		ConnectTimeout:    b.ConnectTimeout,
		ReadTimeout:       b.ReadTimeout,
		RequestsPerSecond: b.RequestsPerSecond,
	}
}

// Stream returns the websocket endpoint, following the testnet switch unless
// stream_url is set.
func (b BinanceConfig) Stream() string {
	if b.StreamURL != "" {
		return b.StreamURL
	}
	if b.Testnet {
		return binance.TestnetStreamURL
	}
	return binance.ProductionStreamURL
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type BacktestConfig struct {
	Workers         int    `mapstructure:"workers"`
	DefaultInterval string `mapstructure:"default_interval"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string, logger *logrus.Logger) (*Config, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pairs-trader")
	}

	v.SetEnvPrefix("PAIRS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		if err := loadSecretsFromGCP(context.Background(), &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	config.Trading = NewTradingStore(v, logger)
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.stream_url", "")
	v.SetDefault("binance.connect_timeout", "10s")
	v.SetDefault("binance.read_timeout", "30s")
	v.SetDefault("binance.requests_per_second", 10)
	v.SetDefault("binance.mark_price_stream", true)
	v.SetDefault("binance.mark_price_max_age", "1m")

	setTradingDefaults(v)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "10m")

	v.SetDefault("backtest.workers", 4)
	v.SetDefault("backtest.default_interval", "1h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "pairs")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.binance_api_key", secretNames.BinanceAPIKey)
	v.SetDefault("gcp.secret_names.binance_secret_key", secretNames.BinanceSecretKey)
	v.SetDefault("gcp.secret_names.jwt_secret", secretNames.JWTSecret)
	v.SetDefault("gcp.secret_names.redis_password", secretNames.RedisPassword)
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		config.Binance.APIKey = apiKey
	}
	if secretKey := os.Getenv("BINANCE_SECRET_KEY"); secretKey != "" {
		config.Binance.SecretKey = secretKey
	}
	if testnet := os.Getenv("BINANCE_TESTNET"); testnet == "true" {
		config.Binance.Testnet = true
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		config.Server.JWTSecret = jwtSecret
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
		config.Redis.Enabled = true
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

type secretSource interface {
	GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	var opts []option.ClientOption
	if config.GCP.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.GCP.CredentialsFile))
	}
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	applySecrets(ctx, config, secretManager)
	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// applySecrets fills only the values that are still empty.
func applySecrets(ctx context.Context, config *Config, src secretSource) {
	names := config.GCP.SecretNames
	if config.Binance.APIKey == "" {
		config.Binance.APIKey = src.GetSecretWithDefault(ctx, names.BinanceAPIKey, "")
	}
	if config.Binance.SecretKey == "" {
		config.Binance.SecretKey = src.GetSecretWithDefault(ctx, names.BinanceSecretKey, "")
	}
	if config.Server.JWTSecret == "" {
		config.Server.JWTSecret = src.GetSecretWithDefault(ctx, names.JWTSecret, "")
	}
	if config.Redis.Password == "" {
		config.Redis.Password = src.GetSecretWithDefault(ctx, names.RedisPassword, "")
	}
}

// CredentialReloader is implemented by the exchange client.
type CredentialReloader interface {
	ReloadCredentials(apiKey, secretKey string)
}

// ApplyCredentials pushes the section's keys into a running client. The
// configuration layer holds no reference to the client.
func ApplyCredentials(r CredentialReloader, b BinanceConfig) {
	r.ReloadCredentials(strings.TrimSpace(b.APIKey), strings.TrimSpace(b.SecretKey))
}
