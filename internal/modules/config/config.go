package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"btc_trader/internal/decision"
	"btc_trader/internal/models"
	"btc_trader/internal/profit"
	"btc_trader/internal/strategy"
	"btc_trader/internal/timing"
	"btc_trader/pkg/logger"
	"btc_trader/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	defaultConfigPath = "configs/values_local.yaml"
	envPrefix         = "BTCBOT"

	tokenTelegramENV = "TELEGRAM_TOKEN"
	chatTelegramENV  = "TELEGRAM_CHAT_ID"
	databaseDSN      = "DATABASE_DSN"
	redisAddrENV     = "REDIS_ADDR"
	okxKeyENV        = "OKX_API_KEY"
	okxSecretENV     = "OKX_API_SECRET"
	okxPassphraseENV = "OKX_PASSPHRASE"
	dryRunENV        = "DRY_RUN"
	logLevelENV      = "LOG_LEVEL"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config ...
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Service struct {
		Name      string `mapstructure:"name"`
		AdminPort int    `mapstructure:"admin_port"`
	} `mapstructure:"service"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	Exchange struct {
		BaseURL    string  `mapstructure:"base_url"`
		WSURL      string  `mapstructure:"ws_url"`
		InstID     string  `mapstructure:"inst_id"`
		APIKey     string  `mapstructure:"api_key"`
		APISecret  string  `mapstructure:"api_secret"`
		Passphrase string  `mapstructure:"passphrase"`
		Simulated  bool    `mapstructure:"simulated"`
		UseStream  bool    `mapstructure:"use_stream"`
		PaperFiat  float64 `mapstructure:"paper_fiat"`
		PaperAsset float64 `mapstructure:"paper_asset"`
	} `mapstructure:"exchange"`

	Storage struct {
		Driver string `mapstructure:"driver"`
		Dir    string `mapstructure:"dir"`
		DSN    string `mapstructure:"dsn"`
		Redis  struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Prefix   string `mapstructure:"prefix"`
		} `mapstructure:"redis"`
	} `mapstructure:"storage"`

	Trading struct {
		// Без явного false ордера только симулируются
		DryRun          bool          `mapstructure:"dry_run"`
		ConfirmRequired bool          `mapstructure:"confirm_required"`
		ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
		SellFraction    float64       `mapstructure:"sell_fraction"`
		MaxSingleBuy    float64       `mapstructure:"max_single_buy"`
		SeedInitialLot  bool          `mapstructure:"seed_initial_lot"`
		MaxSnapshots    int           `mapstructure:"max_snapshots"`
	} `mapstructure:"trading"`

	Decision   decision.Config        `mapstructure:"decision"`
	Fees       models.FeeModel        `mapstructure:"fees"`
	Timing     timing.Config          `mapstructure:"timing"`
	Milestones profit.MilestoneConfig `mapstructure:"milestones"`
	Range      strategy.RangeConfig   `mapstructure:"range"`

	Alerts struct {
		File string `mapstructure:"file"`
	} `mapstructure:"alerts"`

	Tracing tracing.Config `mapstructure:"tracing"`
}

// Defaults — конфиг без файла: dry-run, бумажные балансы, JSON-файлы.
func Defaults() *Config {
	c := &Config{
		LogLevel:   "info",
		Decision:   decision.DefaultConfig(),
		Timing:     timing.DefaultConfig(),
		Fees:       models.FeeModel{TradingFeePct: 0.1, SpreadPct: 0.5},
		Milestones: profit.MilestoneConfig{Mode: models.MilestoneProgressive, Levels: []float64{5, 10, 25, 50, 100}},
		Range:      strategy.RangeConfig{Period: 288, TrendEma: 20},
	}
	c.Service.Name = "btc_trader"
	c.Service.AdminPort = 8080

	c.Exchange.InstID = "BTC-USDT"
	c.Exchange.UseStream = true
	c.Exchange.PaperFiat = 100

	c.Storage.Driver = StorageFile
	c.Storage.Dir = "data"
	c.Storage.Redis.Addr = "localhost:6379"
	c.Storage.Redis.Prefix = "btcbot"

	c.Trading.DryRun = true
	c.Trading.ConfirmTimeout = 2 * time.Minute
	c.Trading.SellFraction = 1
	c.Trading.MaxSingleBuy = 100
	c.Trading.SeedInitialLot = true
	c.Trading.MaxSnapshots = 5000

	c.Alerts.File = "configs/alerts.yaml"

	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831
	return c
}

func NewConfig() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	path := getenvDefault(configFilePathENV, defaultConfigPath)
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load читает YAML по path поверх Defaults. Отсутствующий файл — предупреждение, не ошибка.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		logger.Warn("[CONFIG] %s not found, using defaults", path)
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.applyEnv()
	for _, w := range cfg.Normalize() {
		logger.Warn("[CONFIG] %s", w)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Telegram.Token = getenvDefault(tokenTelegramENV, c.Telegram.Token)
	c.Telegram.ChatID = int64FromEnv(chatTelegramENV, c.Telegram.ChatID)
	c.Storage.DSN = getenvDefault(databaseDSN, c.Storage.DSN)
	c.Storage.Redis.Addr = getenvDefault(redisAddrENV, c.Storage.Redis.Addr)
	c.Exchange.APIKey = getenvDefault(okxKeyENV, c.Exchange.APIKey)
	c.Exchange.APISecret = getenvDefault(okxSecretENV, c.Exchange.APISecret)
	c.Exchange.Passphrase = getenvDefault(okxPassphraseENV, c.Exchange.Passphrase)
	c.Trading.DryRun = boolFromEnv(dryRunENV, c.Trading.DryRun)
	c.LogLevel = getenvDefault(logLevelENV, c.LogLevel)
}

// Normalize заменяет невалидные значения дефолтами и возвращает предупреждения.
func (c *Config) Normalize() []string {
	var warns []string
	def := Defaults()
	fix := func(msg string, args ...any) { warns = append(warns, fmt.Sprintf(msg, args...)) }

	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StoragePostgres, StorageRedis:
	default:
		fix("storage.driver %q unknown, using %s", c.Storage.Driver, def.Storage.Driver)
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Storage.Driver == StoragePostgres && c.Storage.DSN == "" {
		fix("storage.dsn empty, falling back to %s storage", StorageFile)
		c.Storage.Driver = StorageFile
	}

	if !c.Trading.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		fix("live trading requested without OKX credentials, staying in dry-run")
		c.Trading.DryRun = true
	}
	if c.Trading.SellFraction <= 0 || c.Trading.SellFraction > 1 {
		fix("trading.sell_fraction %.2f out of (0,1], using 1", c.Trading.SellFraction)
		c.Trading.SellFraction = 1
	}
	if c.Trading.ConfirmTimeout <= 0 {
		c.Trading.ConfirmTimeout = def.Trading.ConfirmTimeout
	}

	if c.Decision.BuyAmount <= 0 {
		fix("decision.buy_amount %.2f invalid, using %.2f", c.Decision.BuyAmount, def.Decision.BuyAmount)
		c.Decision.BuyAmount = def.Decision.BuyAmount
	}
	if c.Trading.MaxSingleBuy > 0 && c.Decision.BuyAmount > c.Trading.MaxSingleBuy {
		fix("decision.buy_amount %.2f above max_single_buy %.2f, clamped", c.Decision.BuyAmount, c.Trading.MaxSingleBuy)
		c.Decision.BuyAmount = c.Trading.MaxSingleBuy
	}

	if c.Fees.TradingFeePct < 0 || c.Fees.SpreadPct < 0 || c.Fees.WithdrawalFee < 0 {
		fix("negative fees reset to defaults")
		c.Fees = def.Fees
	}

	t := &c.Timing
	if t.StartHour < 0 || t.StartHour > 23 || t.EndHour < 0 || t.EndHour > 24 {
		fix("timing hours %d-%d invalid, using %d-%d", t.StartHour, t.EndHour, def.Timing.StartHour, def.Timing.EndHour)
		t.StartHour, t.EndHour = def.Timing.StartHour, def.Timing.EndHour
	}
	if t.PollMin <= 0 {
		fix("timing.poll_min invalid, using %s", def.Timing.PollMin)
		t.PollMin = def.Timing.PollMin
	}
	if t.PollMax < t.PollMin {
		fix("timing.poll_max below poll_min, using poll_min")
		t.PollMax = t.PollMin
	}
	if t.ActionDelayMax < t.ActionDelayMin {
		t.ActionDelayMax = t.ActionDelayMin
	}
	if t.HesitationMax < t.HesitationMin {
		t.HesitationMax = t.HesitationMin
	}
	if t.HesitationChance < 0 || t.HesitationChance > 1 {
		fix("timing.hesitation_chance %.2f out of [0,1], using %.2f", t.HesitationChance, def.Timing.HesitationChance)
		t.HesitationChance = def.Timing.HesitationChance
	}
	if t.RescheduleBackoff <= 0 {
		t.RescheduleBackoff = def.Timing.RescheduleBackoff
	}
	if t.EmergencyWindow <= 0 {
		t.EmergencyWindow = def.Timing.EmergencyWindow
	}

	m := &c.Milestones
	switch m.Mode {
	case models.MilestoneProgressive:
		if len(m.Levels) == 0 {
			m.Levels = def.Milestones.Levels
		}
	case models.MilestoneFixed:
		if m.Step <= 0 {
			fix("milestones.step invalid, switching to progressive")
			*m = def.Milestones
		}
	case models.MilestoneStatic:
		if m.Static <= 0 {
			fix("milestones.static invalid, switching to progressive")
			*m = def.Milestones
		}
	default:
		fix("milestones.mode %q unknown, using progressive", m.Mode)
		*m = def.Milestones
	}

	return warns
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func int64FromEnv(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}
