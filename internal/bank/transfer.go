// internal/bank/transfer.go

// Engine 為正式的轉帳原語。
//
// 取得順序：永遠先鎖 ID 較小的帳戶、再鎖較大的帳戶，與轉帳方向無關。
// 所有並行呼叫者都遵守同一個全域順序，wait-for 圖因此不可能形成循環。
//
// 流程：
//  1. 驗證金額 > 0、來源與目標不同（不取鎖、不碰儲存）。
//  2. 依 LockOrder 取得兩個帳戶的獨佔權。
//  3. 在鎖內讀取兩個帳戶，任一不存在即回傳 AccountNotFoundError。
//  4. 餘額不足回傳 InsufficientFundsError，不做任何修改。
//  5. 扣款、入帳並在同一個 Commit 內生效；Commit 結束即釋放鎖。
//
// 任何離開路徑都會經過 deferred Rollback，保證鎖被釋放。

package bank

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "transferbank/internal/bank"

// Engine 以全域 ID 順序取得帳戶鎖的轉帳引擎。
type Engine struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
}

// EngineOption 調整 Engine 的行為。
type EngineOption func(*Engine)

// WithLogger 設定引擎記錄器。
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer 設定引擎使用的 tracer；預設取自全域 TracerProvider。
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine 建立轉帳引擎。
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store 回傳引擎所操作的帳戶儲存。
func (e *Engine) Store() Store {
	return e.store
}

// LockOrder 回傳兩個帳戶的取得順序：較小的 ID 優先。
// 純函式，所有呼叫者共用，確保取得順序與呼叫端給定的方向無關。
func LockOrder(a, b int64) (first, second int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Transfer 從 fromID 轉 amount 到 toID，全有或全無。
func (e *Engine) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (err error) {
	if !amount.IsPositive() {
		return ErrBadAmount
	}
	if fromID == toID {
		return ErrSameAccount
	}

	ctx, span := e.tracer.Start(ctx, "bank.Transfer", trace.WithAttributes(
		attribute.Int64("transfer.from", fromID),
		attribute.Int64("transfer.to", toID),
		attribute.String("transfer.amount", amount.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := e.logger.With(zap.Int64("from", fromID), zap.Int64("to", toID), zap.Stringer("amount", amount))
	log.Debug("starting transfer")

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Warn("rollback transfer", zap.Error(rbErr))
		}
	}()

	first, second := LockOrder(fromID, toID)
	if err := tx.Acquire(ctx, first); err != nil {
		return err
	}
	if err := tx.Acquire(ctx, second); err != nil {
		return err
	}

	firstAcct, err := tx.Get(ctx, first)
	if err != nil {
		return err
	}
	secondAcct, err := tx.Get(ctx, second)
	if err != nil {
		return err
	}

	from, to := firstAcct, secondAcct
	if fromID != first {
		from, to = secondAcct, firstAcct
	}

	if err := from.Withdraw(amount); err != nil {
		log.Warn("transfer rejected", zap.Error(err))
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

	log.Info("transfer complete",
		zap.Stringer("from_balance", from.Balance),
		zap.Stringer("to_balance", to.Balance),
	)
	return nil
}
