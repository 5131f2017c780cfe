// Package lockset 提供以帳戶 ID 為鍵的獨佔鎖表。
//
// 每個鍵對應一個容量為 1 的 channel，依需求建立並以參照計數回收。
// 等待中的取得動作會尊重 ctx.Done()；若 ctx 永不取消，則無限期阻塞。
// 鎖表同時記錄持有者與等待者，可匯出 wait-for 圖以偵測死結循環。
package lockset

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld 代表釋放一把未持有（或已釋放）的鎖。
var ErrNotHeld = errors.New("lock was not held or already released")

// Guard 代表一把已取得的獨佔鎖，必須在所有離開路徑上釋放。
type Guard interface {
	Unlock(ctx context.Context) error
}

// Locker 是帳戶獨佔存取的取得原語。
// owner 用來識別持有者（通常為交易 ID），供 wait-for 圖使用。
type Locker interface {
	Lock(ctx context.Context, key int64, owner string) (Guard, error)
}

var _ Locker = (*Table)(nil)

type entry struct {
	slot   chan struct{}
	holder string
	refs   int
}

// Table 為行程內的鎖表實作。
type Table struct {
	mu      sync.Mutex
	entries map[int64]*entry
	waiting map[string]int64
}

// New 建立空白鎖表。
func New() *Table {
	return &Table{
		entries: make(map[int64]*entry),
		waiting: make(map[string]int64),
	}
}

// Lock 阻塞直到取得 key 的獨佔權，或 ctx 被取消。
func (t *Table) Lock(ctx context.Context, key int64, owner string) (Guard, error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.waiting[owner] = key
	t.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiting, owner)
		t.dropRef(key, e)
		t.mu.Unlock()
		return nil, ctx.Err()
	}

	t.mu.Lock()
	delete(t.waiting, owner)
	e.holder = owner
	t.mu.Unlock()

	return &guard{table: t, key: key, entry: e}, nil
}

// Holder 回傳 key 目前的持有者；無人持有時回傳空字串。
func (t *Table) Holder(key int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.holder
	}
	return ""
}

// Len 回傳目前仍被持有或等待中的鍵數量。
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// WaitFor 回傳目前的 wait-for 邊：等待者 → 持有者。
func (t *Table) WaitFor() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	edges := make(map[string]string, len(t.waiting))
	for owner, key := range t.waiting {
		e, ok := t.entries[key]
		if !ok || e.holder == "" || e.holder == owner {
			continue
		}
		edges[owner] = e.holder
	}
	return edges
}

// FindCycle 在目前的 wait-for 圖中尋找循環；無循環時回傳 nil。
func (t *Table) FindCycle() []string {
	g := NewGraph()
	for waiter, holder := range t.WaitFor() {
		g.AddEdge(waiter, holder)
	}
	return g.Cycle()
}

// dropRef 必須在持有 t.mu 時呼叫。
func (t *Table) dropRef(key int64, e *entry) {
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

type guard struct {
	table *Table
	key   int64
	entry *entry
	once  sync.Once
}

func (g *guard) Unlock(context.Context) error {
	released := false
	g.once.Do(func() {
		t := g.table
		t.mu.Lock()
		defer t.mu.Unlock()
		g.entry.holder = ""
		<-g.entry.slot
		t.dropRef(g.key, g.entry)
		released = true
	})
	if !released {
		return ErrNotHeld
	}
	return nil
}
