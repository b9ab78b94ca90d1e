package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"btc_trader/internal/decision"
	"btc_trader/internal/exchange"
	"btc_trader/internal/ledger"
	"btc_trader/internal/models"
	bootstrap "btc_trader/internal/modules/bootstrap/service"
	"btc_trader/internal/modules/config"
	"btc_trader/internal/modules/postgres"
	"btc_trader/internal/modules/storage"
	"btc_trader/internal/notify"
	"btc_trader/internal/profit"
	"btc_trader/internal/runner"
	"btc_trader/internal/timing"
	"btc_trader/pkg/db"
	"btc_trader/pkg/logger"
)

const usage = `usage: ledger <command> [args]

commands:
  lots                       open lots with unrealized profit
  profit                     baseline, profit and milestones
  sell-lot <id>              sell one lot entirely
  buy <fiat> [--emergency]   manual buy; --emergency lifts max_single_buy
  set-baseline <amount>      override portfolio baseline
  reset [--seed-asset X --seed-price Y]
                             clear lots and profit history
`

type app struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	account *profit.Account
	runner  *runner.Runner
	close   func()
}

func open(ctx context.Context) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	var (
		tx  *db.PgTxManager
		rdb *redis.Client
	)
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		if tx, err = postgres.Connect(ctx, cfg.Storage.DSN); err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
	case config.StorageRedis:
		if rdb, err = storage.NewRedisClient(ctx, cfg); err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
	}
	st, err := storage.Build(ctx, cfg, tx, rdb)
	if err != nil {
		return nil, errors.Wrap(err, "build storage")
	}

	rest := exchange.NewOKX(exchange.OKXConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		Passphrase: cfg.Exchange.Passphrase,
		InstID:     cfg.Exchange.InstID,
		Simulated:  cfg.Exchange.Simulated,
	})
	var client exchange.Client = rest
	if cfg.Trading.DryRun {
		client = exchange.NewPaper(rest, cfg.Fees, models.Balances{Fiat: cfg.Exchange.PaperFiat, Asset: cfg.Exchange.PaperAsset})
	}

	n := notify.NewStdout()
	l := ledger.New(st.Lots, cfg.Fees)
	a := profit.New(cfg.Milestones, st.Profit, cfg.Trading.MaxSnapshots)
	if err := bootstrap.NewRestorer(l, a, client, rest, n, false).Restore(ctx); err != nil {
		return nil, errors.Wrap(err, "restore state")
	}

	r := runner.New(runner.Deps{
		Exchange: client,
		Prices:   rest,
		Ledger:   l,
		Account:  a,
		Engine:   decision.NewEngine(cfg.Decision, cfg.Fees),
		Gate:     timing.NewGate(cfg.Timing, 0),
		Notifier: n,
	}, runner.Options{
		SellFraction: cfg.Trading.SellFraction,
		MaxSingleBuy: cfg.Trading.MaxSingleBuy,
	})

	return &app{
		cfg:     cfg,
		ledger:  l,
		account: a,
		runner:  r,
		close: func() {
			if tx != nil {
				tx.Close()
			}
			if rdb != nil {
				_ = rdb.Close()
			}
		},
	}, nil
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no command")
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	emergency := fs.Bool("emergency", false, "lift max_single_buy for this buy")
	seedAsset := fs.Float64("seed-asset", 0, "BTC for the initial lot after reset")
	seedPrice := fs.Float64("seed-price", 0, "unit price of the initial lot")
	if err := fs.Parse(rest); err != nil {
		return errors.Wrap(err, "parse flags")
	}
	pos := fs.Args()

	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "lots":
		fmt.Println(a.runner.LotsText(ctx))
		for _, lot := range a.ledger.Lots() {
			if !lot.Open() {
				fmt.Printf("  %s %-8s %-8s %.8f @ %.2f\n", lot.ID, lot.Tag, lot.Status, lot.OriginalAsset, lot.UnitPrice)
			}
		}

	case "profit":
		fmt.Println(a.runner.ProfitText(ctx))

	case "sell-lot":
		if len(pos) != 1 {
			return errors.New("sell-lot needs <id>")
		}
		res, err := a.runner.SellLot(ctx, pos[0])
		if err != nil {
			return errors.Wrapf(err, "sell lot %s", pos[0])
		}
		fmt.Printf("sold %.8f BTC @ %.2f, gross %+.2f, net %+.2f\n", res.AssetAmount, res.UnitPrice, res.GrossProfit, res.NetProfit)

	case "buy":
		if len(pos) != 1 {
			return errors.New("buy needs <fiat>")
		}
		fiat, err := strconv.ParseFloat(pos[0], 64)
		if err != nil {
			return errors.Wrap(err, "parse fiat")
		}
		lot, err := a.runner.BuyNow(ctx, fiat, *emergency)
		if err != nil {
			return errors.Wrap(err, "buy")
		}
		fmt.Printf("lot %s: %.8f BTC for %.2f\n", lot.ID, lot.AssetAmount, lot.FiatAmount)

	case "set-baseline":
		if len(pos) != 1 {
			return errors.New("set-baseline needs <amount>")
		}
		amount, err := strconv.ParseFloat(pos[0], 64)
		if err != nil || amount <= 0 {
			return errors.Errorf("invalid baseline %q", pos[0])
		}
		a.account.SetBaseline(ctx, amount)
		fmt.Printf("baseline set to %.2f\n", amount)

	case "reset":
		var seed *ledger.Seed
		if *seedAsset > 0 {
			if *seedPrice <= 0 {
				return errors.New("--seed-asset needs --seed-price")
			}
			seed = &ledger.Seed{Asset: *seedAsset, UnitPrice: *seedPrice}
		}
		if err := a.ledger.Reset(ctx, seed); err != nil {
			return errors.Wrap(err, "reset ledger")
		}
		a.account.ResetAll(ctx)
		fmt.Println("ledger and profit history cleared")

	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

func main() {
	logger.SetServiceName("btc_ledger")
	_ = logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n%s", err, usage)
		os.Exit(1)
	}
}
