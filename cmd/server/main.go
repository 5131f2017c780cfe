// cmd/server/main.go

// 本服務提供帳戶建立、查詢與轉帳的 RESTful API。
// 此檔案負責依設定組裝各模組（config, logging, telemetry, storage, lock, bank, server），
// 並啟動 HTTP 伺服器；記憶體後端啟動時載入 JSON 快照，每次變更與結束時保存。

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"transferbank/internal/bank"
	"transferbank/internal/config"
	"transferbank/internal/lockset"
	"transferbank/internal/logging"
	"transferbank/internal/redislock"
	"transferbank/internal/server"
	"transferbank/internal/storage"
	"transferbank/internal/storage/sqlstore"
	"transferbank/internal/telemetry"
)

const serviceName = "transferbank"

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("load config: %v", err)
	}
	logger, level, err := logging.New(cfg.LogLevel)
	if err != nil {
		config.Exitf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, level); err != nil {
		logger.Error("server stopped", zap.Error(err))
		_ = logger.Sync()
		config.Exitf("%v", err)
	}
}

func run(cfg config.Config, logger *zap.Logger, level zap.AtomicLevel) error {
	// SIGINT/SIGTERM 取消 ctx，觸發優雅關閉
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("shutdown tracing", zap.Error(err))
		}
	}()

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	store, persist, closeStore, err := openStore(ctx, cfg, locker, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := bank.NewEngine(store, bank.WithLogger(logger.Named("bank")))
	s := server.NewServer(engine, persist,
		server.WithLogger(logger.Named("http")),
		server.WithLogLevel(level),
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("bank server running",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.Store),
			zap.String("locker", cfg.Locker),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	// 結束前保存最終狀態
	if persist != nil {
		if err := persist(); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	return nil
}

// openLocker 依設定回傳帳戶鎖；記憶體鎖時回傳 nil，由各儲存自行決定預設。
func openLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (lockset.Locker, func(), error) {
	if cfg.Locker != config.LockerRedis {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	l, err := redislock.New(ctx, client, redislock.DefaultOptions(), logger.Named("redislock"))
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("init redis locker: %w", err)
	}
	return l, func() { _ = client.Close() }, nil
}

// openStore 依設定建立帳戶儲存。只有記憶體後端會回傳 persist 鉤子。
func openStore(ctx context.Context, cfg config.Config, locker lockset.Locker, logger *zap.Logger) (bank.Store, func() error, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite, config.StorePostgres:
		opts := []sqlstore.Option{sqlstore.WithLogger(logger.Named("sqlstore"))}
		if locker != nil {
			opts = append(opts, sqlstore.WithLocker(locker))
		}
		var (
			st  *sqlstore.Store
			err error
		)
		if cfg.Store == config.StoreSQLite {
			st, err = sqlstore.OpenSQLite(cfg.SQLitePath, opts...)
		} else {
			st, err = sqlstore.OpenPostgres(ctx, cfg.PostgresDSN, opts...)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		return st, nil, func() { _ = st.Close() }, nil
	}

	mem := bank.NewMemoryStore(bank.WithLocker(locker), bank.WithStoreLogger(logger.Named("store")))
	// 嘗試從上次的 JSON 快照載入資料，若不存在則以空銀行啟動
	snap, err := storage.LoadSnapshot(cfg.DataFile)
	switch {
	case err == nil:
		mem.Restore(snap)
		logger.Info("snapshot loaded", zap.String("file", cfg.DataFile), zap.Int("accounts", len(snap.Accounts)))
	case errors.Is(err, storage.ErrNoSnapshot):
	default:
		return nil, nil, nil, fmt.Errorf("load snapshot: %w", err)
	}

	var mu sync.Mutex
	persist := func() error {
		mu.Lock()
		defer mu.Unlock()
		return storage.SaveSnapshot(cfg.DataFile, mem.Snapshot())
	}
	return mem, persist, func() {}, nil
}
