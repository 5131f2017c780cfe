// cmd/deadlock-demo/main.go

// 以兩個方向相反的 worker 重現（或排除）轉帳死結。
//   -engine=naive   依呼叫順序取鎖，預期在數秒內停滯，並印出 wait-for 循環。
//   -engine=ordered 依帳戶 ID 順序取鎖，預期持續有進度直到時間結束。

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"transferbank/internal/bank"
	"transferbank/internal/config"
	"transferbank/internal/deadlock"
	"transferbank/internal/harness"
	"transferbank/internal/lockset"
	"transferbank/internal/logging"
)

const (
	engineNaive   = "naive"
	engineOrdered = "ordered"
)

var errUnknownEngine = errors.New("unknown engine")

type options struct {
	Engine       string
	Duration     time.Duration
	StallTimeout time.Duration
	Delay        time.Duration
	Interval     time.Duration
	Amount       string
	Balance      string
	LogLevel     string
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.Engine, "engine", engineNaive, "transfer engine: naive or ordered")
	fs.DurationVar(&o.Duration, "duration", 10*time.Second, "upper bound for the whole run")
	fs.DurationVar(&o.StallTimeout, "stall-timeout", 2*time.Second, "declare a deadlock after this long without progress")
	fs.DurationVar(&o.Delay, "delay", deadlock.DefaultCriticalSectionDelay, "naive engine pause between the two acquisitions")
	fs.DurationVar(&o.Interval, "interval", 50*time.Millisecond, "pause between transfers of one worker")
	fs.StringVar(&o.Amount, "amount", "10", "amount moved per transfer")
	fs.StringVar(&o.Balance, "balance", "1000", "initial balance of both accounts")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.Engine != engineNaive && o.Engine != engineOrdered {
		return options{}, fmt.Errorf("%w: %q", errUnknownEngine, o.Engine)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(flag.NewFlagSet(os.Args[0], flag.ContinueOnError), os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		config.Exitf("parse flags: %v", err)
	}
	logger, _, err := logging.New(o.LogLevel)
	if err != nil {
		config.Exitf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := run(ctx, o, logger)
	if err != nil {
		logger.Error("demo failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	if rep.Stalled {
		fmt.Printf("DEADLOCK: no progress for %s after %d transfers; wait-for cycle %v\n",
			o.StallTimeout, rep.Completed, rep.Cycle)
		return
	}
	fmt.Printf("OK: %d transfers completed, %d rejected in %s\n", rep.Completed, rep.Rejected, rep.Elapsed.Round(time.Millisecond))
}

// run 建立兩個帳戶並以設定的引擎執行雙向轉帳負載。
func run(ctx context.Context, o options, logger *zap.Logger) (harness.Report, error) {
	amount, err := decimal.NewFromString(o.Amount)
	if err != nil {
		return harness.Report{}, fmt.Errorf("parse amount: %w", err)
	}
	balance, err := decimal.NewFromString(o.Balance)
	if err != nil {
		return harness.Report{}, fmt.Errorf("parse balance: %w", err)
	}

	locks := lockset.New()
	store := bank.NewMemoryStore(bank.WithLocker(locks), bank.WithStoreLogger(logger))
	for _, owner := range []string{"A", "B"} {
		if _, err := store.Create(ctx, owner, balance); err != nil {
			return harness.Report{}, fmt.Errorf("create account %s: %w", owner, err)
		}
	}

	var transfer harness.TransferFunc
	switch o.Engine {
	case engineNaive:
		transfer = deadlock.NewUnsafeNaiveEngine(store,
			deadlock.WithDelay(o.Delay), deadlock.WithLogger(logger.Named("naive"))).Transfer
	default:
		transfer = bank.NewEngine(store, bank.WithLogger(logger.Named("ordered"))).Transfer
	}

	cfg := harness.DefaultConfig()
	cfg.Amount = amount
	cfg.Interval = o.Interval
	cfg.Duration = o.Duration
	cfg.StallTimeout = o.StallTimeout
	cfg.Inspector = locks
	cfg.Logger = logger

	rep, err := harness.Run(ctx, cfg, transfer)
	if err != nil {
		return rep, err
	}

	all, err := store.List(context.Background())
	if err != nil {
		return rep, err
	}
	fields := make([]zap.Field, 0, len(all))
	for _, a := range all {
		fields = append(fields, zap.Stringer(a.OwnerName, a.Balance))
	}
	logger.Info("final balances", fields...)
	return rep, nil
}
