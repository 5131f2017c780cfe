// Package redislock 以 Redis（RedLock / redsync）實作帳戶獨佔存取原語，
// 讓多個服務實例共用同一組帳戶鎖。契約與 lockset.Locker 相同。
//
// redsync 沒有真正的阻塞等待，這裡以大量重試（Tries × RetryDelay）逼近阻塞語意；
// 重試耗盡時回傳 ErrLockTimeout。鎖的值為交易 ID，可用 Holder 查詢目前持有者。
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"transferbank/internal/lockset"
)

const maxTries = 100000

var (
	// ErrNilClient 代表未提供 Redis client。
	ErrNilClient = errors.New("redis client is nil")
	// ErrLockTimeout 代表重試次數耗盡仍未取得鎖。
	ErrLockTimeout = errors.New("redis lock: retries exhausted")
	// ErrInvalidOptions 代表鎖參數不合法。
	ErrInvalidOptions = errors.New("redis lock: invalid options")
	// ErrUnavailable 代表斷路器開啟，暫時不再嘗試連線 Redis。
	ErrUnavailable = errors.New("redis lock: backend unavailable")
)

var _ lockset.Locker = (*Locker)(nil)

// Options 控制鎖的行為。
type Options struct {
	// Expiry 為鎖自動過期時間，避免持有者崩潰後永久卡住。
	Expiry time.Duration
	// Tries 為取得鎖的嘗試次數上限。
	Tries int
	// RetryDelay 為兩次嘗試之間的間隔。
	RetryDelay time.Duration
	// DriftFactor 為 RedLock 的時鐘漂移係數。
	DriftFactor float64
	// KeyPrefix 為 Redis 鍵前綴。
	KeyPrefix string
	// BreakerFailures 為連續幾次連線層失敗後開啟斷路器；鎖被占用不算失敗。
	BreakerFailures uint32
	// BreakerTimeout 為斷路器開啟後多久進入半開狀態。
	BreakerTimeout time.Duration
}

// DefaultOptions 回傳預設值：10 秒過期，約 5 分鐘的重試視窗。
func DefaultOptions() Options {
	return Options{
		Expiry:      10 * time.Second,
		Tries:       30000,
		RetryDelay:  10 * time.Millisecond,
		DriftFactor: 0.01,
		KeyPrefix:   "lock:account:",

		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

func (o Options) validate() error {
	switch {
	case o.Expiry <= 0:
		return fmt.Errorf("%w: expiry must be greater than 0", ErrInvalidOptions)
	case o.Tries < 1 || o.Tries > maxTries:
		return fmt.Errorf("%w: tries must be between 1 and %d", ErrInvalidOptions, maxTries)
	case o.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay cannot be negative", ErrInvalidOptions)
	case o.DriftFactor < 0 || o.DriftFactor >= 1:
		return fmt.Errorf("%w: drift factor must be in [0, 1)", ErrInvalidOptions)
	case o.BreakerFailures == 0:
		return fmt.Errorf("%w: breaker failures must be greater than 0", ErrInvalidOptions)
	}
	return nil
}

// Locker 為 Redis 帳戶鎖。
type Locker struct {
	client  redis.UniversalClient
	rs      *redsync.Redsync
	breaker *gobreaker.CircuitBreaker
	opts    Options
	logger  *zap.Logger
}

// New 建立 Redis 帳戶鎖並確認連線可用。
func New(ctx context.Context, client redis.UniversalClient, opts Options, logger *zap.Logger) (*Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-lock",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isContention(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	return &Locker{
		client:  client,
		rs:      redsync.New(goredis.NewPool(client)),
		breaker: breaker,
		opts:    opts,
		logger:  logger,
	}, nil
}

func (l *Locker) key(id int64) string {
	return l.opts.KeyPrefix + strconv.FormatInt(id, 10)
}

// Lock 取得帳戶 key 的獨佔權；owner 作為鎖的值。
func (l *Locker) Lock(ctx context.Context, key int64, owner string) (lockset.Guard, error) {
	name := l.key(key)
	m := l.rs.NewMutex(name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
		redsync.WithDriftFactor(l.opts.DriftFactor),
		redsync.WithGenValueFunc(func() (string, error) { return owner, nil }),
	)

	_, err := l.breaker.Execute(func() (any, error) {
		return nil, m.LockContext(ctx)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
		}
		if isContention(err) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, name)
		}
		return nil, fmt.Errorf("acquire redis lock %s: %w", name, err)
	}
	l.logger.Debug("redis lock acquired", zap.String("lock_key", name), zap.String("owner", owner))
	return &guard{mutex: m, name: name, logger: l.logger}, nil
}

// Holder 回傳帳戶鎖目前的持有者；無人持有時回傳空字串。
func (l *Locker) Holder(ctx context.Context, key int64) (string, error) {
	v, err := l.client.Get(ctx, l.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get redis lock holder: %w", err)
	}
	return v, nil
}

// isContention 判斷錯誤是否只是「鎖被他人持有」。
func isContention(err error) bool {
	msg := err.Error()
	return errors.Is(err, redsync.ErrFailed) ||
		strings.Contains(msg, "lock already taken") ||
		strings.Contains(msg, "failed to acquire lock")
}

func isExpired(err error) bool {
	return errors.Is(err, redsync.ErrLockAlreadyExpired) ||
		strings.Contains(err.Error(), "already expired")
}

type guard struct {
	mutex  *redsync.Mutex
	name   string
	logger *zap.Logger
	once   sync.Once
}

func (g *guard) Unlock(ctx context.Context) error {
	err := lockset.ErrNotHeld
	g.once.Do(func() {
		ok, uerr := g.mutex.UnlockContext(ctx)
		switch {
		case uerr != nil && isExpired(uerr):
			g.logger.Warn("redis lock expired before release", zap.String("lock_key", g.name))
			err = lockset.ErrNotHeld
		case uerr != nil:
			g.logger.Error("failed to release redis lock", zap.String("lock_key", g.name), zap.Error(uerr))
			err = fmt.Errorf("release redis lock %s: %w", g.name, uerr)
		case !ok:
			g.logger.Warn("redis lock was not held or already expired", zap.String("lock_key", g.name))
			err = lockset.ErrNotHeld
		default:
			err = nil
		}
	})
	return err
}
