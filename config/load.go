package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rebalancer-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string            `yaml:"env"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Portfolio   PortfolioConfig   `yaml:"portfolio"`
	Optimizer   OptimizerConfig   `yaml:"optimizer"`
	Rebalancing RebalancingConfig `yaml:"rebalancing"`
	Reporting   ReportingConfig   `yaml:"reporting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logger      logger.Config     `yaml:"logger"`
}

type ExchangeConfig struct {
	Name         string  `yaml:"name"`
	APIKey       string  `yaml:"apiKey"`
	APISecret    string  `yaml:"apiSecret"`
	BaseURL      string  `yaml:"baseURL"`
	RecvWindowMs int     `yaml:"recvWindowMs"`
	RateLimit    float64 `yaml:"rateLimit"` // 每秒请求数
}

// AssetBounds 单资产权重上下界（百分比权重，0~1）。
type AssetBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type PortfolioConfig struct {
	BaseAsset string                 `yaml:"baseAsset"`
	Assets    map[string]AssetBounds `yaml:"assets"`
	Blacklist []string               `yaml:"blacklist"`
	Index     []string               `yaml:"index"` // 成交量加权指数成分
}

type OptimizerConfig struct {
	WeightMin    float64  `yaml:"weightMin"`
	WeightMax    float64  `yaml:"weightMax"`
	TargetReturn *float64 `yaml:"targetReturn"`
	TargetRisk   *float64 `yaml:"targetRisk"`
	Frequency    int      `yaml:"frequency"` // 年化换算用的周期数，1h K线约 8760
}

type RebalancingConfig struct {
	Precision       float64  `yaml:"precision"` // 忽略小于该值的权重差
	Timeframes      []string `yaml:"timeframes"`
	OHLCVLimit      int      `yaml:"ohlcvLimit"`
	LoopIntervalMin int      `yaml:"loopIntervalMin"` // 秒
	LoopIntervalMax int      `yaml:"loopIntervalMax"`
	DryRun          bool     `yaml:"dryRun"`
	MarketOnly      bool     `yaml:"marketOnly"`
}

type ReportingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("REB_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("REB_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if !cfg.Rebalancing.DryRun && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "") {
		return errors.New("exchange.apiKey/apiSecret is required outside dry run (or env overrides)")
	}
	if cfg.Portfolio.BaseAsset == "" {
		return errors.New("portfolio.baseAsset is required")
	}
	if len(cfg.Portfolio.Assets) == 0 {
		return errors.New("portfolio.assets config is required")
	}
	for asset, b := range cfg.Portfolio.Assets {
		if b.Min < 0 || b.Max > 1 || b.Min >= b.Max {
			return fmt.Errorf("asset %s bounds must satisfy 0 <= min < max <= 1", asset)
		}
	}
	if cfg.Optimizer.WeightMin < 0 || cfg.Optimizer.WeightMax > 1 ||
		cfg.Optimizer.WeightMin >= cfg.Optimizer.WeightMax {
		return errors.New("optimizer weight bounds must satisfy 0 <= min < max <= 1")
	}
	if cfg.Optimizer.TargetReturn != nil && cfg.Optimizer.TargetRisk != nil {
		return errors.New("optimizer.targetReturn and targetRisk are mutually exclusive")
	}
	if cfg.Optimizer.Frequency <= 0 {
		return errors.New("optimizer.frequency must be > 0")
	}
	if cfg.Rebalancing.Precision <= 0 {
		return errors.New("rebalancing.precision must be > 0")
	}
	if len(cfg.Rebalancing.Timeframes) == 0 {
		return errors.New("rebalancing.timeframes is required")
	}
	if cfg.Rebalancing.LoopIntervalMin <= 0 ||
		cfg.Rebalancing.LoopIntervalMax <= cfg.Rebalancing.LoopIntervalMin {
		return errors.New("rebalancing loop interval must satisfy 0 < min < max")
	}
	if cfg.Reporting.Enabled && cfg.Reporting.Addr == "" {
		return errors.New("reporting.addr is required when reporting is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics is enabled")
	}
	return nil
}
