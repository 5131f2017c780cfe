// Package sqlstore 以關聯式資料庫（SQLite、PostgreSQL）實作 bank.Store。
//
// 帳戶獨佔權由資料庫提供：PostgreSQL 以 SELECT ... FOR UPDATE 取得列鎖，
// SQLite 以 IMMEDIATE 交易取得整個資料庫的寫鎖。寫入時另以 version 欄位做
// compare-and-set，偵測任何繞過鎖的並行更新。可選的外部 lockset.Locker
// （例如 Redis）會在資料庫鎖之前取得，讓多個服務實例共用同一組帳戶鎖。
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"transferbank/internal/bank"
	"transferbank/internal/lockset"
	"transferbank/internal/storage/sqlstore/migrations"
)

const (
	pgUniqueViolation    = "23505"
	pgDeadlockDetected   = "40P01"
	pgSerializationError = "40001"
)

// ErrDeadlockDetected 代表資料庫偵測到死結並中止了交易（只會發生在不照順序取鎖時）。
var ErrDeadlockDetected = errors.New("database detected a deadlock")

var _ bank.Store = (*Store)(nil)

// Store 為 SQL 帳戶儲存。
type Store struct {
	db      *sql.DB
	dialect Dialect
	locks   lockset.Locker
	logger  *zap.Logger
}

// Option 調整 Store 的行為。
type Option func(*Store)

// WithLocker 設定在資料庫鎖之前取得的外部帳戶鎖。
func WithLocker(l lockset.Locker) Option {
	return func(s *Store) { s.locks = l }
}

// WithLogger 設定記錄器。
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSQLite 開啟（或建立）SQLite 資料庫檔並套用內嵌遷移。
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite 同時只允許一個寫入者。限制為單一連線後，併發交易改在連線池排隊，
	// 等待會阻塞並遵守 ctx，不會以 SQLITE_BUSY 失敗。
	db.SetMaxOpenConns(1)
	return open(context.Background(), db, SQLite, opts)
}

// sqliteDSN 組出 modernc 驅動的連線字串；PRAGMA 只能透過 _pragma 參數設定。
func sqliteDSN(path string) string {
	return filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// OpenPostgres 連線 PostgreSQL 並套用內嵌遷移。
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return open(ctx, db, Postgres, opts)
}

func open(ctx context.Context, db *sql.DB, d Dialect, opts []Option) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d, err)
	}
	if err := ApplyMigrations(ctx, db, d, migrations.FS, d.String()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s := &Store{db: db, dialect: d, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close 關閉資料庫連線。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect 回傳目前的 SQL 方言。
func (s *Store) Dialect() Dialect { return s.dialect }

const selectAccount = "SELECT id, owner_name, balance, version FROM accounts"

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getOne(ctx context.Context, q queryer, query string, id int64) (bank.Account, error) {
	var a bank.Account
	err := q.QueryRowContext(ctx, s.dialect.Rebind(query), id).Scan(&a.ID, &a.OwnerName, &a.Balance, &a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, &bank.AccountNotFoundError{ID: id}
	}
	if err != nil {
		return bank.Account{}, mapError(err)
	}
	return a, nil
}

// Get 依 ID 讀取帳戶，不取得任何鎖。
func (s *Store) Get(ctx context.Context, id int64) (bank.Account, error) {
	return s.getOne(ctx, s.db, selectAccount+" WHERE id = ?", id)
}

// List 回傳所有帳戶，依 ID 排序。
func (s *Store) List(ctx context.Context) ([]bank.Account, error) {
	rows, err := s.db.QueryContext(ctx, selectAccount+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := []bank.Account{}
	for rows.Next() {
		var a bank.Account
		if err := rows.Scan(&a.ID, &a.OwnerName, &a.Balance, &a.Version); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// Create 新增帳戶；持有人名稱重複時回傳 bank.ErrDuplicateOwner。
func (s *Store) Create(ctx context.Context, owner string, balance decimal.Decimal) (bank.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return bank.Account{}, bank.ErrBadOwner
	}
	if balance.IsNegative() {
		return bank.Account{}, bank.ErrBadAmount
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind("INSERT INTO accounts (owner_name, balance, version) VALUES (?, ?, 0) RETURNING id"),
		owner, balance.String(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return bank.Account{}, bank.ErrDuplicateOwner
		}
		return bank.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return bank.Account{ID: id, OwnerName: owner, Balance: balance}, nil
}

// Begin 開始一個資料庫交易作為轉帳的工作單元。
func (s *Store) Begin(ctx context.Context) (bank.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", mapError(err))
	}
	return &sqlTx{
		store: s,
		tx:    tx,
		owner: uuid.NewString(),
		held:  make(map[int64]bool),
		rows:  make(map[int64]bank.Account),
	}, nil
}

// mapError 把驅動層錯誤轉成本套件可辨識的錯誤。
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrDeadlockDetected, pgErr.Message)
		case pgSerializationError:
			return fmt.Errorf("%w: %s", bank.ErrConcurrentUpdate, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
