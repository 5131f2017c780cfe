// internal/bank/memstore.go
//
// 行程內的帳戶儲存實作。
// - mu：只保護帳戶索引表（ID → *Account）本身，查詢不需取得任何帳戶鎖。
// - locks：每個帳戶的獨佔存取原語（預設為 lockset.Table，可替換為 Redis）。
// - 提交時在 mu 寫鎖內一次套用所有暫存寫入，讀者只會看到「全部生效」或「全部未生效」。

package bank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"transferbank/internal/lockset"
	"transferbank/internal/storage"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore 為聚合根：管理全系統帳戶。
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	accts  map[int64]*Account
	owners map[string]int64

	locks  lockset.Locker
	logger *zap.Logger
}

// MemoryOption 調整 MemoryStore 的行為。
type MemoryOption func(*MemoryStore)

// WithLocker 替換帳戶獨佔存取原語。
func WithLocker(l lockset.Locker) MemoryOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.locks = l
		}
	}
}

// WithStoreLogger 設定儲存層記錄器（主要用於記錄釋放鎖失敗）。
func WithStoreLogger(l *zap.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMemoryStore 建立空白的記憶體儲存。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		accts:  make(map[int64]*Account),
		owners: make(map[string]int64),
		locks:  lockset.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locker 回傳儲存所使用的獨佔存取原語，供診斷（例如 wait-for 圖）使用。
func (s *MemoryStore) Locker() lockset.Locker {
	return s.locks
}

// Create 以持有人名稱與初始餘額建立帳戶；名稱不得為空且不得重複，初始餘額不得為負。
func (s *MemoryStore) Create(_ context.Context, owner string, balance decimal.Decimal) (Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Account{}, ErrBadOwner
	}
	if balance.IsNegative() {
		return Account{}, ErrBadAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[owner]; ok {
		return Account{}, ErrDuplicateOwner
	}
	s.nextID++
	a := &Account{ID: s.nextID, OwnerName: owner, Balance: balance}
	s.accts[a.ID] = a
	s.owners[owner] = a.ID
	return *a, nil
}

// Get 依 ID 取得帳戶的目前快照（值拷貝）。
func (s *MemoryStore) Get(_ context.Context, id int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accts[id]
	if !ok {
		return Account{}, &AccountNotFoundError{ID: id}
	}
	return *a, nil
}

// List 回傳所有帳戶的快照，依 ID 排序。
func (s *MemoryStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accts))
	for _, a := range s.accts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Begin 開始一個工作單元；交易 ID 作為鎖的持有者識別。
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memTx{
		store:  s,
		owner:  uuid.NewString(),
		held:   make(map[int64]bool),
		staged: make(map[int64]Account),
	}, nil
}

// Snapshot 匯出狀態到可持久化的 storage.Snapshot。
func (s *MemoryStore) Snapshot() storage.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := storage.Snapshot{
		Meta: storage.Meta{
			Storage: "json_snapshot",
			Version: storage.CurrentVersion,
			Note:    "decimal balances keyed by numeric account id",
		},
		NextID: s.nextID,
	}
	for _, a := range s.accts {
		snap.Accounts = append(snap.Accounts, storage.PersistAccount{
			ID: a.ID, OwnerName: a.OwnerName, Balance: a.Balance, Version: a.Version,
		})
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].ID < snap.Accounts[j].ID })
	return snap
}

// Restore 由快照重建帳戶索引表。只應在開始處理轉帳之前呼叫。
func (s *MemoryStore) Restore(snap storage.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.NextID
	s.accts = make(map[int64]*Account, len(snap.Accounts))
	s.owners = make(map[string]int64, len(snap.Accounts))
	for _, pa := range snap.Accounts {
		s.accts[pa.ID] = &Account{ID: pa.ID, OwnerName: pa.OwnerName, Balance: pa.Balance, Version: pa.Version}
		s.owners[pa.OwnerName] = pa.ID
		if pa.ID > s.nextID {
			s.nextID = pa.ID
		}
	}
}

type heldLock struct {
	id    int64
	guard lockset.Guard
}

type memTx struct {
	store  *MemoryStore
	owner  string
	guards []heldLock
	held   map[int64]bool
	staged map[int64]Account
	done   bool
}

func (tx *memTx) Acquire(ctx context.Context, id int64) error {
	if tx.done {
		return ErrTxDone
	}
	if tx.held[id] {
		return nil
	}
	g, err := tx.store.locks.Lock(ctx, id, tx.owner)
	if err != nil {
		return fmt.Errorf("acquire account %d: %w", id, err)
	}
	tx.guards = append(tx.guards, heldLock{id: id, guard: g})
	tx.held[id] = true
	return nil
}

func (tx *memTx) Get(ctx context.Context, id int64) (Account, error) {
	if tx.done {
		return Account{}, ErrTxDone
	}
	if !tx.held[id] {
		return Account{}, fmt.Errorf("get account %d: %w", id, ErrNotAcquired)
	}
	if a, ok := tx.staged[id]; ok {
		return a, nil
	}
	return tx.store.Get(ctx, id)
}

func (tx *memTx) Put(_ context.Context, a Account) error {
	if tx.done {
		return ErrTxDone
	}
	if !tx.held[a.ID] {
		return fmt.Errorf("put account %d: %w", a.ID, ErrNotAcquired)
	}
	tx.staged[a.ID] = a
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	s := tx.store
	s.mu.Lock()
	for id := range tx.staged {
		if _, ok := s.accts[id]; !ok {
			s.mu.Unlock()
			_ = tx.Rollback(ctx)
			return &AccountNotFoundError{ID: id}
		}
	}
	for id, a := range tx.staged {
		cur := s.accts[id]
		cur.Balance = a.Balance
		cur.Version = a.Version
	}
	s.mu.Unlock()

	if err := tx.release(ctx); err != nil {
		s.logger.Warn("release account locks after commit", zap.String("tx", tx.owner), zap.Error(err))
	}
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.staged = nil
	return tx.release(ctx)
}

// release 依取得的相反順序釋放所有鎖。
func (tx *memTx) release(ctx context.Context) error {
	tx.done = true
	var errs []error
	for i := len(tx.guards) - 1; i >= 0; i-- {
		h := tx.guards[i]
		if err := h.guard.Unlock(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release account %d: %w", h.id, err))
		}
	}
	tx.guards = nil
	return errors.Join(errs...)
}
