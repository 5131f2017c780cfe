package deadlock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transferbank/internal/bank"
	"transferbank/internal/harness"
	"transferbank/internal/lockset"
)

func newStore(t *testing.T) (*bank.MemoryStore, *lockset.Table) {
	t.Helper()
	tbl := lockset.New()
	s := bank.NewMemoryStore(bank.WithLocker(tbl))
	for _, owner := range []string{"A", "B"} {
		_, err := s.Create(context.Background(), owner, decimal.NewFromInt(1000))
		require.NoError(t, err)
	}
	return s, tbl
}

func TestNaiveTransferSequential(t *testing.T) {
	s, tbl := newStore(t)
	e := NewUnsafeNaiveEngine(s, WithDelay(0))
	ctx := context.Background()

	require.NoError(t, e.Transfer(ctx, 1, 2, decimal.NewFromInt(10)))
	require.NoError(t, e.Transfer(ctx, 2, 1, decimal.NewFromInt(5)))

	a, _ := s.Get(ctx, 1)
	b, _ := s.Get(ctx, 2)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(995)))
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(1005)))

	err := e.Transfer(ctx, 1, 2, decimal.NewFromInt(5000))
	var insufficient *bank.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(1), insufficient.AccountID)
	assert.Equal(t, 0, tbl.Len())
}

func TestNaiveTransferValidatesArguments(t *testing.T) {
	s, tbl := newStore(t)
	e := NewUnsafeNaiveEngine(s, WithDelay(0))
	ctx := context.Background()

	cases := []struct {
		name     string
		from, to int64
		amount   int64
		want     error
	}{
		{"same account", 1, 1, 50, bank.ErrSameAccount},
		{"negative amount", 1, 2, -2000, bank.ErrBadAmount},
		{"zero amount", 2, 1, 0, bank.ErrBadAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Transfer(ctx, tc.from, tc.to, decimal.NewFromInt(tc.amount))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	a, _ := s.Get(ctx, 1)
	b, _ := s.Get(ctx, 2)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 0, tbl.Len())
}

// TestNaiveOpposingTransfersDeadlock 驗證危害真實存在：反向併發下最終完全沒有進度，
// 且鎖表的 wait-for 圖出現兩個交易互相等待的循環。
func TestNaiveOpposingTransfersDeadlock(t *testing.T) {
	if testing.Short() {
		t.Skip("deadlock reproduction waits for the watchdog")
	}

	const trials = 3
	for i := 0; i < trials; i++ {
		s, tbl := newStore(t)
		e := NewUnsafeNaiveEngine(s, WithDelay(20*time.Millisecond))

		cfg := harness.DefaultConfig()
		cfg.Interval = 0
		cfg.Duration = 20 * time.Second
		cfg.StallTimeout = 400 * time.Millisecond
		cfg.Inspector = tbl

		rep, err := harness.Run(context.Background(), cfg, e.Transfer)
		require.NoError(t, err)
		require.True(t, rep.Stalled, "trial %d: expected the naive engine to deadlock", i)
		assert.Len(t, rep.Cycle, 2, "trial %d: expected a two-transaction wait-for cycle", i)

		// 看門狗取消後所有鎖都已釋放，帳戶狀態仍守恆
		assert.Equal(t, 0, tbl.Len())
		a, _ := s.Get(context.Background(), 1)
		b, _ := s.Get(context.Background(), 2)
		assert.True(t, a.Balance.Add(b.Balance).Equal(decimal.NewFromInt(2000)))
	}
}

// TestOrderedEngineSameWorkloadCompletes 以完全相同的負載驗證正式引擎不會停滯。
func TestOrderedEngineSameWorkloadCompletes(t *testing.T) {
	s, tbl := newStore(t)
	e := bank.NewEngine(s)

	cfg := harness.DefaultConfig()
	cfg.Interval = 0
	cfg.Duration = 0
	cfg.Iterations = 200
	cfg.StallTimeout = 400 * time.Millisecond
	cfg.Inspector = tbl

	rep, err := harness.Run(context.Background(), cfg, e.Transfer)
	require.NoError(t, err)
	assert.False(t, rep.Stalled)
	assert.Equal(t, int64(400), rep.Completed+rep.Rejected)
}
