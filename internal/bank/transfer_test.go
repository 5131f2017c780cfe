// internal/bank/transfer_test.go
//
// 轉帳引擎的單元與併發測試（皆為 in-memory）：
// 固定情境、同帳戶拒絕、原子性、守恆律、非負餘額、反向併發無死結、提交可見性。

package bank

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"transferbank/internal/lockset"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seed 建立 n 個帳戶，每個帳戶餘額為 balance。
func seed(t *testing.T, s Store, n int, balance string) []Account {
	t.Helper()
	out := make([]Account, 0, n)
	for i := 0; i < n; i++ {
		a, err := s.Create(context.Background(), string(rune('A'+i)), dec(balance))
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func balanceOf(t *testing.T, s Store, id int64) decimal.Decimal {
	t.Helper()
	a, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func total(t *testing.T, s Store) decimal.Decimal {
	t.Helper()
	all, err := s.List(context.Background())
	require.NoError(t, err)
	sum := decimal.Zero
	for _, a := range all {
		sum = sum.Add(a.Balance)
	}
	return sum
}

// spyStore 記錄所有對儲存層的呼叫次數。
type spyStore struct {
	Store
	calls atomic.Int32
}

func (s *spyStore) Get(ctx context.Context, id int64) (Account, error) {
	s.calls.Add(1)
	return s.Store.Get(ctx, id)
}

func (s *spyStore) Begin(ctx context.Context) (Tx, error) {
	s.calls.Add(1)
	return s.Store.Begin(ctx)
}

func TestLockOrder(t *testing.T) {
	first, second := LockOrder(2, 1)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	first, second = LockOrder(1, 2)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	first, second = LockOrder(-5, 3)
	assert.Equal(t, int64(-5), first)
	assert.Equal(t, int64(3), second)
}

func TestTransferScenario(t *testing.T) {
	s := NewMemoryStore()
	accts := seed(t, s, 2, "1000")
	a, b := accts[0].ID, accts[1].ID
	require.Equal(t, int64(1), a)
	require.Equal(t, int64(2), b)

	e := NewEngine(s)
	ctx := context.Background()

	require.NoError(t, e.Transfer(ctx, 1, 2, dec("10")))
	require.NoError(t, e.Transfer(ctx, 2, 1, dec("5")))
	assert.True(t, balanceOf(t, s, 1).Equal(dec("995")))
	assert.True(t, balanceOf(t, s, 2).Equal(dec("1005")))

	err := e.Transfer(ctx, 1, 2, dec("2000"))
	require.ErrorIs(t, err, ErrInsufficient)
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(1), insufficient.AccountID)
	assert.Equal(t, "insufficient funds in account 1", err.Error())

	assert.True(t, balanceOf(t, s, 1).Equal(dec("995")))
	assert.True(t, balanceOf(t, s, 2).Equal(dec("1005")))
}

func TestTransferSameAccount(t *testing.T) {
	mem := NewMemoryStore()
	seed(t, mem, 2, "1000")
	spy := &spyStore{Store: mem}
	e := NewEngine(spy)

	err := e.Transfer(context.Background(), 1, 1, dec("50"))
	assert.ErrorIs(t, err, ErrSameAccount)
	assert.Zero(t, spy.calls.Load(), "same-account transfer must not touch the store")
	assert.True(t, balanceOf(t, mem, 1).Equal(dec("1000")))
}

func TestTransferBadAmount(t *testing.T) {
	mem := NewMemoryStore()
	seed(t, mem, 2, "100")
	spy := &spyStore{Store: mem}
	e := NewEngine(spy)

	for _, amt := range []string{"0", "-5", "-0.01"} {
		err := e.Transfer(context.Background(), 1, 2, dec(amt))
		assert.ErrorIs(t, err, ErrBadAmount, "amount %s", amt)
	}
	assert.Zero(t, spy.calls.Load())
}

func TestTransferAccountNotFound(t *testing.T) {
	tbl := lockset.New()
	s := NewMemoryStore(WithLocker(tbl))
	seed(t, s, 1, "100")
	e := NewEngine(s)
	ctx := context.Background()

	tests := []struct {
		name     string
		from, to int64
	}{
		{name: "missing destination", from: 1, to: 99},
		{name: "missing source", from: 99, to: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Transfer(ctx, tt.from, tt.to, dec("10"))
			require.ErrorIs(t, err, ErrNotFound)
			var nf *AccountNotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, int64(99), nf.ID)
			assert.Equal(t, "account not found: 99", err.Error())

			assert.True(t, balanceOf(t, s, 1).Equal(dec("100")))
			assert.Equal(t, 0, tbl.Len(), "locks must be released on error paths")
		})
	}
}

func TestTransferReleasesLocks(t *testing.T) {
	tbl := lockset.New()
	s := NewMemoryStore(WithLocker(tbl))
	seed(t, s, 2, "100")
	e := NewEngine(s)
	ctx := context.Background()

	require.ErrorIs(t, e.Transfer(ctx, 1, 2, dec("1000")), ErrInsufficient)
	assert.Equal(t, 0, tbl.Len())

	require.NoError(t, e.Transfer(ctx, 1, 2, dec("100")))
	assert.Equal(t, 0, tbl.Len())
	assert.True(t, balanceOf(t, s, 1).IsZero())
	assert.True(t, balanceOf(t, s, 2).Equal(dec("200")))
}

func TestTransferDecimalPrecision(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 2, "0.30")
	e := NewEngine(s)

	require.NoError(t, e.Transfer(context.Background(), 1, 2, dec("0.10")))
	require.NoError(t, e.Transfer(context.Background(), 1, 2, dec("0.20")))
	assert.True(t, balanceOf(t, s, 1).IsZero())
	assert.True(t, balanceOf(t, s, 2).Equal(dec("0.60")))
}

func TestTransferCancelledWhileWaiting(t *testing.T) {
	tbl := lockset.New()
	s := NewMemoryStore(WithLocker(tbl))
	seed(t, s, 2, "100")
	e := NewEngine(s)

	held, err := tbl.Lock(context.Background(), 1, "other")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = e.Transfer(ctx, 2, 1, dec("10"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, held.Unlock(context.Background()))
	assert.Equal(t, 0, tbl.Len())
	assert.True(t, balanceOf(t, s, 2).Equal(dec("100")))
}

// TestOpposingTransfersDoNotDeadlock 以兩組反向迴圈（A→B、B→A）在時間預算內完成所有迭代。
func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 2, "1000")
	e := NewEngine(s)

	const iterations = 500
	done := make(chan error, 2)
	loop := func(from, to int64) {
		for i := 0; i < iterations; i++ {
			if err := e.Transfer(context.Background(), from, to, dec("10")); err != nil && !errors.Is(err, ErrInsufficient) {
				done <- err
				return
			}
		}
		done <- nil
	}
	go loop(1, 2)
	go loop(2, 1)

	budget := time.After(10 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-budget:
			t.Fatal("opposing transfers did not finish within the time budget")
		}
	}
	assert.True(t, total(t, s).Equal(dec("2000")))
}

// TestConcurrentTransfersConservation 多帳戶隨機轉帳後，總額不變且所有餘額非負。
func TestConcurrentTransfersConservation(t *testing.T) {
	s := NewMemoryStore()
	accts := seed(t, s, 6, "100")
	e := NewEngine(s)

	const workers = 16
	const perWorker = 200
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				from := accts[r.Intn(len(accts))].ID
				to := accts[r.Intn(len(accts))].ID
				amt := decimal.NewFromInt(int64(r.Intn(40) + 1))
				err := e.Transfer(context.Background(), from, to, amt)
				if err != nil && !errors.Is(err, ErrInsufficient) && !errors.Is(err, ErrSameAccount) {
					t.Errorf("transfer %d->%d: %v", from, to, err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	all, err := s.List(context.Background())
	require.NoError(t, err)
	for _, a := range all {
		assert.False(t, a.Balance.IsNegative(), "account %d negative: %s", a.ID, a.Balance)
	}
	assert.True(t, total(t, s).Equal(dec("600")))
}

// TestCommitVisibleAtomically 併發轉帳期間，讀者每次 List 看到的總額都守恆。
func TestCommitVisibleAtomically(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 2, "1000")
	e := NewEngine(s)

	stop := make(chan struct{})
	var writers sync.WaitGroup
	for _, dir := range [][2]int64{{1, 2}, {2, 1}} {
		writers.Add(1)
		go func(from, to int64) {
			defer writers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = e.Transfer(context.Background(), from, to, dec("7"))
			}
		}(dir[0], dir[1])
	}

	for i := 0; i < 2000; i++ {
		if sum := total(t, s); !sum.Equal(dec("2000")) {
			close(stop)
			writers.Wait()
			t.Fatalf("observed intermediate state: total=%s", sum)
		}
	}
	close(stop)
	writers.Wait()
}

func TestTransferLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewMemoryStore()
	seed(t, s, 2, "100")
	e := NewEngine(s, WithLogger(zap.New(core)))

	require.NoError(t, e.Transfer(context.Background(), 1, 2, dec("10")))
	require.ErrorIs(t, e.Transfer(context.Background(), 1, 2, dec("1000")), ErrInsufficient)

	complete := logs.FilterMessage("transfer complete").All()
	require.Len(t, complete, 1)
	fields := complete[0].ContextMap()
	assert.Equal(t, "90", fields["from_balance"])
	assert.Equal(t, "110", fields["to_balance"])

	assert.Equal(t, 1, logs.FilterMessage("transfer rejected").FilterLevelExact(zapcore.WarnLevel).Len())
}
