package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"transferbank/internal/bank"
	"transferbank/internal/lockset"
)

type heldLock struct {
	id    int64
	guard lockset.Guard
}

type sqlTx struct {
	store  *Store
	tx     *sql.Tx
	owner  string
	guards []heldLock
	held   map[int64]bool
	rows   map[int64]bank.Account // 取得鎖時讀到的列；缺少代表帳戶不存在
	done   bool
}

// Acquire 先取得外部鎖（若有），再於交易內鎖定並讀取該列。
// 帳戶不存在不算錯誤，交由 Get 回報。
func (t *sqlTx) Acquire(ctx context.Context, id int64) error {
	if t.done {
		return bank.ErrTxDone
	}
	if t.held[id] {
		return nil
	}
	if t.store.locks != nil {
		g, err := t.store.locks.Lock(ctx, id, t.owner)
		if err != nil {
			return fmt.Errorf("acquire account %d: %w", id, err)
		}
		t.guards = append(t.guards, heldLock{id: id, guard: g})
	}

	a, err := t.store.getOne(ctx, t.tx, t.store.dialect.lockRow(selectAccount+" WHERE id = ?"), id)
	switch {
	case errors.Is(err, bank.ErrNotFound):
	case err != nil:
		return fmt.Errorf("acquire account %d: %w", id, err)
	default:
		t.rows[id] = a
	}
	t.held[id] = true
	return nil
}

func (t *sqlTx) Get(_ context.Context, id int64) (bank.Account, error) {
	if t.done {
		return bank.Account{}, bank.ErrTxDone
	}
	if !t.held[id] {
		return bank.Account{}, fmt.Errorf("get account %d: %w", id, bank.ErrNotAcquired)
	}
	a, ok := t.rows[id]
	if !ok {
		return bank.Account{}, &bank.AccountNotFoundError{ID: id}
	}
	return a, nil
}

// Put 在交易內更新該列，以取得鎖時讀到的 version 做 compare-and-set。
func (t *sqlTx) Put(ctx context.Context, a bank.Account) error {
	if t.done {
		return bank.ErrTxDone
	}
	if !t.held[a.ID] {
		return fmt.Errorf("put account %d: %w", a.ID, bank.ErrNotAcquired)
	}
	cur, ok := t.rows[a.ID]
	if !ok {
		return &bank.AccountNotFoundError{ID: a.ID}
	}

	res, err := t.tx.ExecContext(ctx,
		t.store.dialect.Rebind("UPDATE accounts SET balance = ?, version = ? WHERE id = ? AND version = ?"),
		a.Balance.String(), a.Version, a.ID, cur.Version,
	)
	if err != nil {
		return fmt.Errorf("put account %d: %w", a.ID, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put account %d: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("put account %d: %w", a.ID, bank.ErrConcurrentUpdate)
	}
	t.rows[a.ID] = a
	return nil
}

func (t *sqlTx) Commit(ctx context.Context) error {
	if t.done {
		return bank.ErrTxDone
	}
	err := t.tx.Commit()
	if rerr := t.release(ctx); rerr != nil {
		t.store.logger.Warn("release account locks after commit", zap.String("tx", t.owner), zap.Error(rerr))
	}
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		err = nil
	}
	return errors.Join(err, t.release(ctx))
}

// release 依取得的相反順序釋放外部鎖。
func (t *sqlTx) release(ctx context.Context) error {
	t.done = true
	var errs []error
	for i := len(t.guards) - 1; i >= 0; i-- {
		h := t.guards[i]
		if err := h.guard.Unlock(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release account %d: %w", h.id, err))
		}
	}
	t.guards = nil
	return errors.Join(errs...)
}
