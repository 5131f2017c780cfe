// internal/storage/model.go
//
// 記憶體帳戶儲存的快照格式。
// 只描述資料形狀，不含鎖或商業規則；轉帳的原子性由 bank 層負責，
// 本層只保證「整份快照」寫入時不會留下半份檔案。
package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Meta 為快照的中繼資料：儲存方式、格式版本、建立時間與備註。
type Meta struct {
	Storage   string    `json:"storage"`        // 儲存類型，例如 "json_snapshot"
	Version   int       `json:"version"`        // 結構版本號，用於未來升級時比對
	Timestamp time.Time `json:"timestamp"`      // 快照建立時間
	Note      string    `json:"note,omitempty"` // 備註欄，可選，用於人工說明
}

// PersistAccount 為帳戶在儲存層的序列化格式。
// 不含同步鎖或方法，僅保存資料狀態，確保可安全序列化至 JSON 或資料庫。
// 餘額以十進位字串輸出（decimal.Decimal 的 JSON 格式），避免浮點誤差。
type PersistAccount struct {
	ID        int64           `json:"id"`         // 帳戶唯一 ID（全序，作為鎖順序依據）
	OwnerName string          `json:"owner_name"` // 帳戶持有人名稱，唯一
	Balance   decimal.Decimal `json:"balance"`    // 帳戶餘額
	Version   int64           `json:"version"`    // 餘額每次提交後遞增
}

// Snapshot 為記憶體儲存的完整快照，於每次成功變更後與程式結束時產出。
type Snapshot struct {
	Meta     Meta             `json:"_meta"`    // 中繼資料（儲存資訊與版本）
	NextID   int64            `json:"next_id"`  // 最後配發的帳戶 ID
	Accounts []PersistAccount `json:"accounts"` // 帳戶清單（序列化後的純資料）
}
