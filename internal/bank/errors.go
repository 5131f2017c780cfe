// internal/bank/errors.go
//
// 本檔集中定義「領域錯誤（domain errors）」。
// 這些錯誤屬於商業邏輯層級（非系統錯誤），會由上層 HTTP handler 轉換成適當的 HTTP 狀態碼。
// 帶有帳戶 ID 的錯誤以具型別結構表示，並實作 Is，讓呼叫端仍可用 errors.Is 比對哨兵錯誤。

package bank

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 代表帳戶不存在。
	// 對應 HTTP 狀態碼 404 Not Found。
	ErrNotFound = errors.New("account not found")

	// ErrBadAmount 代表金額非法（轉帳金額 <= 0 或初始餘額為負）。
	// 對應 HTTP 狀態碼 400 Bad Request。
	ErrBadAmount = errors.New("amount must be > 0")

	// ErrInsufficient 代表餘額不足，導致轉帳失敗。
	// 對應 HTTP 狀態碼 409 Conflict。
	ErrInsufficient = errors.New("insufficient funds")

	// ErrSameAccount 代表轉帳來源與目標帳戶相同。
	// 對應 HTTP 狀態碼 400 Bad Request。
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrBadOwner 代表帳戶持有人名稱為空。
	ErrBadOwner = errors.New("owner name is required")

	// ErrDuplicateOwner 代表持有人名稱已被其他帳戶使用。
	// 對應 HTTP 狀態碼 409 Conflict。
	ErrDuplicateOwner = errors.New("owner name already exists")

	// ErrConcurrentUpdate 代表提交時偵測到帳戶版本已被他人變更。
	ErrConcurrentUpdate = errors.New("account modified concurrently")

	// ErrNotAcquired 代表在未取得帳戶獨佔權的情況下讀寫該帳戶。
	ErrNotAcquired = errors.New("account not acquired in this transaction")

	// ErrTxDone 代表交易已提交或回滾後仍被使用。
	ErrTxDone = errors.New("transaction already finished")
)

// AccountNotFoundError 指出查無帳戶的 ID。
type AccountNotFoundError struct {
	ID int64
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found: %d", e.ID)
}

// Is 讓 errors.Is(err, ErrNotFound) 成立。
func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InsufficientFundsError 指出餘額不足的來源帳戶。
type InsufficientFundsError struct {
	AccountID int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %d", e.AccountID)
}

// Is 讓 errors.Is(err, ErrInsufficient) 成立。
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficient
}

// IsBusinessError 回報 err 是否為可預期的商業規則錯誤（非系統故障）。
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadAmount) ||
		errors.Is(err, ErrInsufficient) ||
		errors.Is(err, ErrSameAccount)
}
