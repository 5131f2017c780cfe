// Package bank 定義核心領域模型與轉帳規則。
// 本檔定義 Account 與其內部存提款原語，不含任何 HTTP 或儲存細節。

package bank

import "github.com/shopspring/decimal"

// Account represents a bank account.
type Account struct {
	ID        int64           `json:"id"`
	OwnerName string          `json:"ownerName"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
}

// Deposit 入帳：僅由轉帳引擎在持有帳戶獨佔權時呼叫。
func (a *Account) Deposit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
	a.Version++
}

// Withdraw 扣款：餘額不足時回傳 InsufficientFundsError，且不修改任何欄位。
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if a.Balance.LessThan(amount) {
		return &InsufficientFundsError{AccountID: a.ID}
	}
	a.Balance = a.Balance.Sub(amount)
	a.Version++
	return nil
}
