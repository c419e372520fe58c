package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ExchangeName string

const (
	ExchangeCoinbase ExchangeName = "coinbase"
	ExchangeBinance  ExchangeName = "binance"
)

type Config struct {
	Exchange ExchangeName   `yaml:"exchange"`
	Sandbox  bool           `yaml:"sandbox"`
	Coinbase CoinbaseConfig `yaml:"coinbase"`
	Binance  BinanceConfig  `yaml:"binance"`
	HTTP     HTTPConfig     `yaml:"http"`
	Stream   StreamConfig   `yaml:"stream"`
	Log      LogConfig      `yaml:"log"`
}

type CoinbaseConfig struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	Passphrase  string `yaml:"passphrase"`
	RestBaseURL string `yaml:"rest_base_url"`
	WSBaseURL   string `yaml:"ws_base_url"`
}

type BinanceConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RestBaseURL  string `yaml:"rest_base_url"`
	WSBaseURL    string `yaml:"ws_base_url"`
	RecvWindowMs int64  `yaml:"recv_window_ms"`
	DepthLimit   int    `yaml:"depth_limit"`
}

type HTTPConfig struct {
	TimeoutSec        int64   `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type StreamConfig struct {
	KeepaliveSec int64 `yaml:"keepalive_sec"`
	Buffer       int   `yaml:"buffer"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// credentialEnv lists the environment overrides applied by LoadWithEnv.
type credentialEnv struct {
	CoinbaseAPIKey     string `envconfig:"COINBASE_API_KEY"`
	CoinbaseAPISecret  string `envconfig:"COINBASE_API_SECRET"`
	CoinbasePassphrase string `envconfig:"COINBASE_PASSPHRASE"`
	BinanceAPIKey      string `envconfig:"BINANCE_API_KEY"`
	BinanceAPISecret   string `envconfig:"BINANCE_API_SECRET"`
}

func Load(path string) (Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return Config{}, err
	}
	return cfg.finish()
}

// LoadWithEnv reads the YAML file, then a .env file (when envFile exists), then
// overrides credentials from the process environment.
func LoadWithEnv(path, envFile string) (Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return Config{}, err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var env credentialEnv
	if err := envconfig.Process("", &env); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.applyEnv(env)
	return cfg.finish()
}

func decode(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) finish() (Config, error) {
	c.normalize()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv(env credentialEnv) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&c.Coinbase.APIKey, env.CoinbaseAPIKey)
	set(&c.Coinbase.APISecret, env.CoinbaseAPISecret)
	set(&c.Coinbase.Passphrase, env.CoinbasePassphrase)
	set(&c.Binance.APIKey, env.BinanceAPIKey)
	set(&c.Binance.APISecret, env.BinanceAPISecret)
}

func (c *Config) normalize() {
	c.Exchange = ExchangeName(strings.ToLower(strings.TrimSpace(string(c.Exchange))))
	c.Coinbase.APIKey = strings.TrimSpace(c.Coinbase.APIKey)
	c.Coinbase.APISecret = strings.TrimSpace(c.Coinbase.APISecret)
	c.Coinbase.Passphrase = strings.TrimSpace(c.Coinbase.Passphrase)
	c.Coinbase.RestBaseURL = strings.TrimRight(strings.TrimSpace(c.Coinbase.RestBaseURL), "/")
	c.Coinbase.WSBaseURL = strings.TrimRight(strings.TrimSpace(c.Coinbase.WSBaseURL), "/")
	c.Binance.APIKey = strings.TrimSpace(c.Binance.APIKey)
	c.Binance.APISecret = strings.TrimSpace(c.Binance.APISecret)
	c.Binance.RestBaseURL = strings.TrimRight(strings.TrimSpace(c.Binance.RestBaseURL), "/")
	c.Binance.WSBaseURL = strings.TrimRight(strings.TrimSpace(c.Binance.WSBaseURL), "/")
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.File = strings.TrimSpace(c.Log.File)
}

func (c *Config) applyDefaults() {
	if c.Exchange == "" {
		c.Exchange = ExchangeCoinbase
	}
	if c.Coinbase.RestBaseURL == "" {
		if c.Sandbox {
			c.Coinbase.RestBaseURL = "https://api-public.sandbox.pro.coinbase.com"
		} else {
			c.Coinbase.RestBaseURL = "https://api.pro.coinbase.com"
		}
	}
	if c.Coinbase.WSBaseURL == "" {
		if c.Sandbox {
			c.Coinbase.WSBaseURL = "wss://ws-feed-public.sandbox.pro.coinbase.com"
		} else {
			c.Coinbase.WSBaseURL = "wss://ws-feed.pro.coinbase.com"
		}
	}
	if c.Binance.RestBaseURL == "" {
		if c.Sandbox {
			c.Binance.RestBaseURL = "https://testnet.binance.vision"
		} else {
			c.Binance.RestBaseURL = "https://api.binance.com"
		}
	}
	if c.Binance.WSBaseURL == "" {
		if c.Sandbox {
			c.Binance.WSBaseURL = "wss://testnet.binance.vision/stream"
		} else {
			c.Binance.WSBaseURL = "wss://stream.binance.com:9443/stream"
		}
	}
	if c.Binance.RecvWindowMs == 0 {
		c.Binance.RecvWindowMs = 5000
	}
	if c.Binance.DepthLimit == 0 {
		c.Binance.DepthLimit = 100
	}
	if c.HTTP.TimeoutSec == 0 {
		c.HTTP.TimeoutSec = 15
	}
	if c.HTTP.RequestsPerSecond == 0 {
		c.HTTP.RequestsPerSecond = 5
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 1
	}
	if c.Stream.KeepaliveSec == 0 {
		c.Stream.KeepaliveSec = 30
	}
	if c.Stream.Buffer == 0 {
		c.Stream.Buffer = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
}

func (c Config) Validate() error {
	switch c.Exchange {
	case ExchangeCoinbase, ExchangeBinance:
	default:
		return fmt.Errorf("exchange must be coinbase or binance")
	}
	if err := validateURL(c.Coinbase.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("coinbase rest_base_url %v", err)
	}
	if err := validateURL(c.Coinbase.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("coinbase ws_base_url %v", err)
	}
	if err := validateURL(c.Binance.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("binance rest_base_url %v", err)
	}
	if err := validateURL(c.Binance.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("binance ws_base_url %v", err)
	}
	if (c.Coinbase.APIKey == "") != (c.Coinbase.APISecret == "") {
		return fmt.Errorf("coinbase api_key/api_secret must be set together")
	}
	if c.Coinbase.APIKey != "" && c.Coinbase.Passphrase == "" {
		return fmt.Errorf("coinbase passphrase is required with api credentials")
	}
	if (c.Binance.APIKey == "") != (c.Binance.APISecret == "") {
		return fmt.Errorf("binance api_key/api_secret must be set together")
	}
	if c.Binance.RecvWindowMs < 1 || c.Binance.RecvWindowMs > 60000 {
		return fmt.Errorf("binance recv_window_ms must be between 1 and 60000")
	}
	switch c.Binance.DepthLimit {
	case 5, 10, 20, 50, 100, 500, 1000, 5000:
	default:
		return fmt.Errorf("binance depth_limit must be one of 5, 10, 20, 50, 100, 500, 1000, 5000")
	}
	if c.HTTP.TimeoutSec < 1 || c.HTTP.TimeoutSec > 120 {
		return fmt.Errorf("http timeout_sec must be between 1 and 120")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http requests_per_second must be >= 0")
	}
	if c.HTTP.Burst < 1 {
		return fmt.Errorf("http burst must be >= 1")
	}
	if c.Stream.KeepaliveSec < 1 || c.Stream.KeepaliveSec > 3600 {
		return fmt.Errorf("stream keepalive_sec must be between 1 and 3600")
	}
	if c.Stream.Buffer < 1 || c.Stream.Buffer > 65536 {
		return fmt.Errorf("stream buffer must be between 1 and 65536")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log level must be trace, debug, info, warn, or error")
	}
	if c.Log.MaxSizeMB < 1 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log max_size_mb must be >= 1 and max_backups >= 0")
	}
	return nil
}

// HasCredentials reports whether the selected exchange can sign requests.
func (c Config) HasCredentials() bool {
	switch c.Exchange {
	case ExchangeCoinbase:
		return c.Coinbase.APIKey != ""
	case ExchangeBinance:
		return c.Binance.APIKey != ""
	}
	return false
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
