// internal/bank/store.go
//
// 帳戶儲存層的契約。轉帳引擎只依賴這兩個介面，
// 記憶體、SQLite、PostgreSQL 實作皆可互換。

package bank

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store 持有所有帳戶，是唯一的共享可變狀態。
// Get 與 List 不取得任何帳戶鎖。
type Store interface {
	Get(ctx context.Context, id int64) (Account, error)
	List(ctx context.Context) ([]Account, error)
	Create(ctx context.Context, owner string, balance decimal.Decimal) (Account, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx 是一次轉帳的工作單元，也是提交邊界。
//
//   - Acquire：取得帳戶獨佔權，阻塞直到可用；同一 Tx 重複取得同一帳戶為 no-op。
//   - Get / Put：讀取與暫存寫入，寫入在 Commit 前對外不可見。
//   - Commit：所有寫入一起生效，之後依取得的相反順序釋放所有鎖。
//   - Rollback：丟棄暫存寫入並釋放所有鎖；Commit 之後呼叫為 no-op。
type Tx interface {
	Acquire(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (Account, error)
	Put(ctx context.Context, a Account) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
