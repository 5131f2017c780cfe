// Package harness 以多個並行 worker 反覆執行方向相反的轉帳，
// 並以外部看門狗偵測「完全沒有進度」的狀態（死結）。
//
// 看門狗只透過取消 context 介入，不改變被測引擎本身的語意：
// 傳入 context.Background() 的呼叫者仍會無限期阻塞。
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"transferbank/internal/bank"
)

var (
	// ErrNoRoutes 代表未設定任何轉帳路線。
	ErrNoRoutes = errors.New("at least one route is required")
	// ErrNoBound 代表既未設定迭代次數也未設定執行時間。
	ErrNoBound = errors.New("iterations or duration must be set")
	// ErrStallTimeout 代表看門狗逾時設定不合理：必須大於 Interval，且在設定 Duration 時小於 Duration，
	// 否則死結的執行會先因時間到而結束，看門狗來不及判定停滯。
	ErrStallTimeout = errors.New("stall timeout must be greater than the interval and shorter than the duration")
)

// TransferFunc 為被測的轉帳原語，bank.Engine 與 deadlock.UnsafeNaiveEngine 的 Transfer 皆符合。
type TransferFunc func(ctx context.Context, fromID, toID int64, amount decimal.Decimal) error

// Route 為單一 worker 反覆執行的轉帳方向。
type Route struct {
	From int64
	To   int64
}

// Inspector 在偵測到停滯時回報 wait-for 圖中的循環（例如 *lockset.Table）。
type Inspector interface {
	FindCycle() []string
}

// Config 控制一次執行。
type Config struct {
	Routes       []Route
	Amount       decimal.Decimal
	Interval     time.Duration // 每次轉帳後的停頓
	Iterations   int           // 每個 worker 的轉帳次數；0 表示不限
	Duration     time.Duration // 整體執行時間上限；0 表示不限
	StallTimeout time.Duration // 全體無進度超過此時間即判定停滯
	Inspector    Inspector
	Logger       *zap.Logger
}

// DefaultConfig 為經典的雙執行緒示範：1→2 與 2→1，每次 10，間隔 50ms。
func DefaultConfig() Config {
	return Config{
		Routes:       []Route{{From: 1, To: 2}, {From: 2, To: 1}},
		Amount:       decimal.NewFromInt(10),
		Interval:     50 * time.Millisecond,
		Duration:     5 * time.Second,
		StallTimeout: 2 * time.Second,
	}
}

func (c Config) validate() error {
	if len(c.Routes) == 0 {
		return ErrNoRoutes
	}
	if c.Iterations <= 0 && c.Duration <= 0 {
		return ErrNoBound
	}
	if c.StallTimeout <= 0 || c.StallTimeout <= c.Interval {
		return ErrStallTimeout
	}
	if c.Duration > 0 && c.StallTimeout >= c.Duration {
		return ErrStallTimeout
	}
	if !c.Amount.IsPositive() {
		return bank.ErrBadAmount
	}
	return nil
}

// RouteStats 為單一 worker 的統計。
type RouteStats struct {
	Route
	Completed int64
	Rejected  int64
}

// Report 為一次執行的結果。
type Report struct {
	Routes    []RouteStats
	Completed int64
	Rejected  int64
	Stalled   bool
	Cycle     []string
	Elapsed   time.Duration
}

// Run 執行設定的工作負載，直到所有 worker 完成、時間到、或看門狗判定停滯。
// 商業規則錯誤（例如餘額不足）只計數；其他錯誤會中止整次執行並回傳。
func Run(ctx context.Context, cfg Config, transfer TransferFunc) (Report, error) {
	if err := cfg.validate(); err != nil {
		return Report{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Duration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, cfg.Duration)
		defer cancelTimeout()
	}

	stats := make([]RouteStats, len(cfg.Routes))
	var progress atomic.Int64

	g, gctx := errgroup.WithContext(runCtx)
	for i, route := range cfg.Routes {
		stats[i].Route = route
		st := &stats[i]
		g.Go(func() error {
			return work(gctx, cfg, route, st, &progress, transfer)
		})
	}

	var (
		stalled atomic.Bool
		cycle   []string
		wd      sync.WaitGroup
	)
	workersDone := make(chan struct{})
	wd.Add(1)
	go func() {
		defer wd.Done()
		tick := cfg.StallTimeout / 4
		if tick <= 0 {
			tick = time.Millisecond
		}
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		last := progress.Load()
		lastChange := time.Now()
		for {
			select {
			case <-workersDone:
				return
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				cur := progress.Load()
				if cur != last {
					last, lastChange = cur, now
					continue
				}
				if now.Sub(lastChange) < cfg.StallTimeout {
					continue
				}
				stalled.Store(true)
				if cfg.Inspector != nil {
					cycle = cfg.Inspector.FindCycle()
				}
				logger.Warn("no progress within stall timeout",
					zap.Duration("stall_timeout", cfg.StallTimeout),
					zap.Int64("completed", cur),
					zap.Strings("cycle", cycle),
				)
				cancel()
				return
			}
		}
	}()

	err := g.Wait()
	close(workersDone)
	wd.Wait()

	rep := Report{Routes: stats, Stalled: stalled.Load(), Cycle: cycle, Elapsed: time.Since(start)}
	for _, st := range stats {
		rep.Completed += st.Completed
		rep.Rejected += st.Rejected
	}
	if err != nil && !rep.Stalled {
		return rep, err
	}
	logger.Info("harness finished",
		zap.Int64("completed", rep.Completed),
		zap.Int64("rejected", rep.Rejected),
		zap.Bool("stalled", rep.Stalled),
		zap.Duration("elapsed", rep.Elapsed),
	)
	return rep, nil
}

func work(ctx context.Context, cfg Config, route Route, st *RouteStats, progress *atomic.Int64, transfer TransferFunc) error {
	for i := 0; cfg.Iterations <= 0 || i < cfg.Iterations; i++ {
		if ctx.Err() != nil {
			return nil
		}
		err := transfer(ctx, route.From, route.To, cfg.Amount)
		switch {
		case err == nil:
			atomic.AddInt64(&st.Completed, 1)
		case ctx.Err() != nil:
			return nil
		case bank.IsBusinessError(err):
			atomic.AddInt64(&st.Rejected, 1)
		default:
			return fmt.Errorf("route %d->%d: %w", route.From, route.To, err)
		}
		progress.Add(1)

		if cfg.Interval > 0 {
			select {
			case <-time.After(cfg.Interval):
			case <-ctx.Done():
				return nil
			}
		}
	}
	return nil
}
