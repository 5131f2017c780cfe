// Package deadlock 收錄「不安全」的示範轉帳引擎，僅供死結重現測試與 cmd/deadlock-demo 使用。
//
// UnsafeNaiveEngine 依呼叫端給定的順序取鎖：先鎖 from，停留一段臨界區時間，再鎖 to。
// 兩個呼叫者同時執行 A→B 與 B→A 時，各自握住第一把鎖並永遠等待對方的鎖，形成循環等待。
// 引擎本身沒有逾時；只有呼叫端取消 ctx（例如 harness 的看門狗）才能讓它返回。
//
// 正式服務一律使用 bank.Engine，本套件不得被 cmd/server 或 internal/server 匯入。
package deadlock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"transferbank/internal/bank"
)

// DefaultCriticalSectionDelay 為取得第一把鎖之後的模擬處理時間，放大死結機率。
const DefaultCriticalSectionDelay = 100 * time.Millisecond

// UnsafeNaiveEngine 以呼叫端順序取鎖，會死結。
type UnsafeNaiveEngine struct {
	store  bank.Store
	delay  time.Duration
	logger *zap.Logger
}

// Option 調整 UnsafeNaiveEngine。
type Option func(*UnsafeNaiveEngine)

// WithDelay 設定取得第一把鎖之後的停留時間；0 表示不停留。
func WithDelay(d time.Duration) Option {
	return func(e *UnsafeNaiveEngine) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithLogger 設定記錄器。
func WithLogger(l *zap.Logger) Option {
	return func(e *UnsafeNaiveEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewUnsafeNaiveEngine 建立示範用的不安全引擎。
func NewUnsafeNaiveEngine(store bank.Store, opts ...Option) *UnsafeNaiveEngine {
	e := &UnsafeNaiveEngine{
		store:  store,
		delay:  DefaultCriticalSectionDelay,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer 先鎖 from、再鎖 to；釋放順序為 to、from。
// 參數檢查與 bank.Engine 相同，唯一的差別是取鎖順序。
func (e *UnsafeNaiveEngine) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return bank.ErrBadAmount
	}
	if fromID == toID {
		return bank.ErrSameAccount
	}

	log := e.logger.With(zap.Int64("from", fromID), zap.Int64("to", toID), zap.Stringer("amount", amount))
	log.Debug("attempting transfer")

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.Acquire(ctx, fromID); err != nil {
		return err
	}
	log.Debug("locked from account")

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := tx.Acquire(ctx, toID); err != nil {
		return err
	}
	log.Debug("locked to account")

	from, err := tx.Get(ctx, fromID)
	if err != nil {
		return err
	}
	to, err := tx.Get(ctx, toID)
	if err != nil {
		return err
	}
	if err := from.Withdraw(amount); err != nil {
		return err
	}
	to.Deposit(amount)

	if err := tx.Put(ctx, from); err != nil {
		return err
	}
	if err := tx.Put(ctx, to); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}

	log.Info("completed transfer",
		zap.Stringer("from_balance", from.Balance),
		zap.Stringer("to_balance", to.Balance),
	)
	return nil
}
