package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"btc_trader/internal/models"
	"btc_trader/internal/profit"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		tokenTelegramENV, chatTelegramENV, databaseDSN, redisAddrENV,
		okxKeyENV, okxSecretENV, okxPassphraseENV, dryRunENV, logLevelENV,
	} {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Trading.DryRun {
		t.Fatal("dry-run must be the default")
	}
	if cfg.Storage.Driver != StorageFile || cfg.Exchange.InstID != "BTC-USDT" {
		t.Fatalf("defaults not applied: %+v", cfg.Storage)
	}
	if cfg.Milestones.Mode != models.MilestoneProgressive || len(cfg.Milestones.Levels) == 0 {
		t.Fatalf("milestones = %+v", cfg.Milestones)
	}
}

func TestLoadDecodesYAML(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
log_level: debug
service:
  admin_port: 9191
storage:
  driver: memory
trading:
  confirm_required: true
  confirm_timeout: 90s
  sell_fraction: 0.5
decision:
  buy_threshold: 60000
  sell_threshold: 72000
  buy_amount: 20
  support_levels: [58000, 55000]
  min_buy_interval: 3h
timing:
  timezone: UTC
  start_hour: 9
  end_hour: 21
  poll_min: 1m
  poll_max: 2m
milestones:
  mode: fixed
  step: 15
fees:
  trading_fee_pct: 0.2
  spread_pct: 0.3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Service.AdminPort != 9191 || cfg.Storage.Driver != StorageMemory {
		t.Fatalf("top-level = %q %d %q", cfg.LogLevel, cfg.Service.AdminPort, cfg.Storage.Driver)
	}
	if !cfg.Trading.ConfirmRequired || cfg.Trading.ConfirmTimeout != 90*time.Second || cfg.Trading.SellFraction != 0.5 {
		t.Fatalf("trading = %+v", cfg.Trading)
	}
	d := cfg.Decision
	if d.BuyThreshold != 60000 || d.SellThreshold != 72000 || d.BuyAmount != 20 || d.MinBuyInterval != 3*time.Hour {
		t.Fatalf("decision = %+v", d)
	}
	if len(d.SupportLevels) != 2 || d.SupportLevels[1] != 55000 {
		t.Fatalf("support levels = %v", d.SupportLevels)
	}
	// ключи, которых нет в файле, остаются дефолтными
	if d.DropPercent != 5 || d.MaxDailyTrades != 4 {
		t.Fatalf("unset decision keys lost defaults: %+v", d)
	}
	if cfg.Timing.Timezone != "UTC" || cfg.Timing.StartHour != 9 || cfg.Timing.PollMax != 2*time.Minute {
		t.Fatalf("timing = %+v", cfg.Timing)
	}
	if cfg.Milestones.Mode != models.MilestoneFixed || cfg.Milestones.Step != 15 {
		t.Fatalf("milestones = %+v", cfg.Milestones)
	}
	if cfg.Fees.TradingFeePct != 0.2 || cfg.Fees.SpreadPct != 0.3 {
		t.Fatalf("fees = %+v", cfg.Fees)
	}
}

func TestLoadBrokenYAML(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, "trading: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unreadable config")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(tokenTelegramENV, "123:abc")
	t.Setenv(chatTelegramENV, "42")
	t.Setenv(logLevelENV, "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.ChatID != 42 || cfg.LogLevel != "warn" {
		t.Fatalf("env not applied: %+v %q", cfg.Telegram, cfg.LogLevel)
	}
}

func TestLiveWithoutKeysStaysDry(t *testing.T) {
	clearEnv(t)
	t.Setenv(dryRunENV, "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Trading.DryRun {
		t.Fatal("live mode must require OKX credentials")
	}

	t.Setenv(okxKeyENV, "k")
	t.Setenv(okxSecretENV, "s")
	cfg, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trading.DryRun {
		t.Fatal("DRY_RUN=false with credentials must go live")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(c *Config)
		check func(t *testing.T, c *Config)
	}{
		{
			name: "unknown driver",
			edit: func(c *Config) { c.Storage.Driver = "mongo" },
			check: func(t *testing.T, c *Config) {
				if c.Storage.Driver != StorageFile {
					t.Fatalf("driver = %q", c.Storage.Driver)
				}
			},
		},
		{
			name: "postgres without dsn",
			edit: func(c *Config) { c.Storage.Driver = StoragePostgres },
			check: func(t *testing.T, c *Config) {
				if c.Storage.Driver != StorageFile {
					t.Fatalf("driver = %q", c.Storage.Driver)
				}
			},
		},
		{
			name: "sell fraction out of range",
			edit: func(c *Config) { c.Trading.SellFraction = 1.5 },
			check: func(t *testing.T, c *Config) {
				if c.Trading.SellFraction != 1 {
					t.Fatalf("sell fraction = %v", c.Trading.SellFraction)
				}
			},
		},
		{
			name: "buy amount above single-buy cap",
			edit: func(c *Config) { c.Decision.BuyAmount = 500 },
			check: func(t *testing.T, c *Config) {
				if c.Decision.BuyAmount != c.Trading.MaxSingleBuy {
					t.Fatalf("buy amount = %v", c.Decision.BuyAmount)
				}
			},
		},
		{
			name: "poll max below min",
			edit: func(c *Config) { c.Timing.PollMin, c.Timing.PollMax = 5*time.Minute, time.Minute },
			check: func(t *testing.T, c *Config) {
				if c.Timing.PollMax != 5*time.Minute {
					t.Fatalf("poll max = %v", c.Timing.PollMax)
				}
			},
		},
		{
			name: "bad hours",
			edit: func(c *Config) { c.Timing.StartHour = 30 },
			check: func(t *testing.T, c *Config) {
				if c.Timing.StartHour != 8 {
					t.Fatalf("start hour = %d", c.Timing.StartHour)
				}
			},
		},
		{
			name: "static milestone without value",
			edit: func(c *Config) { c.Milestones = profit.MilestoneConfig{Mode: models.MilestoneStatic} },
			check: func(t *testing.T, c *Config) {
				if c.Milestones.Mode != models.MilestoneProgressive {
					t.Fatalf("mode = %q", c.Milestones.Mode)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Defaults()
			tc.edit(c)
			if warns := c.Normalize(); len(warns) == 0 {
				t.Fatal("expected a warning")
			}
			tc.check(t, c)
		})
	}

	if warns := Defaults().Normalize(); len(warns) != 0 {
		t.Fatalf("defaults produce warnings: %v", warns)
	}
}
