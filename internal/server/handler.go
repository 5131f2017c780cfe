// internal/server/handler.go
//
// Package server
// ─────────────────────────────────────────────
// 提供 HTTP RESTful 介面，作為 bank 模組的應用層 (Application Layer)。
// 每個 handler 僅負責：
//  1. 解析並驗證請求內容（validator）
//  2. 呼叫 bank.Store 或 bank.Engine 執行商業邏輯
//  3. 以統一 JSON 格式回應，錯誤依種類對應狀態碼
//  4. 成功變更狀態後呼叫 persist 鉤子（記憶體後端用來寫入 JSON 快照）
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"transferbank/internal/bank"
)

const maxBodyBytes = 1 << 20

// Server 為 HTTP 層核心結構：
// - engine：轉帳引擎，亦透過 engine.Store() 存取帳戶。
// - persist：持久化鉤子，可為 nil。
type Server struct {
	engine   *bank.Engine
	store    bank.Store
	persist  func() error
	logger   *zap.Logger
	level    http.Handler
	validate *validator.Validate
}

// Option 調整 Server 的行為。
type Option func(*Server)

// WithLogger 設定存取日誌與錯誤日誌的記錄器。
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLogLevel 開放 GET/PUT /log/level，於執行期查詢或調整記錄等級。
func WithLogLevel(lvl zap.AtomicLevel) Option {
	return func(s *Server) {
		s.level = lvl
	}
}

// NewServer 建立新的 HTTP 伺服器。
// persist 可為 nil；若提供則會於每次成功變更後觸發。
func NewServer(e *bank.Engine, persist func() error, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		store:    e.Store(),
		persist:  persist,
		logger:   zap.NewNop(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type createAccountRequest struct {
	OwnerName      string           `json:"ownerName" validate:"required"`
	InitialBalance *decimal.Decimal `json:"initialBalance" validate:"required"`
}

type createAccountResponse struct {
	ID        int64           `json:"id"`
	OwnerName string          `json:"ownerName"`
	Balance   decimal.Decimal `json:"balance"`
}

type transferRequest struct {
	FromAccountID int64            `json:"fromAccountId" validate:"required"`
	ToAccountID   int64            `json:"toAccountId" validate:"required"`
	Amount        *decimal.Decimal `json:"amount" validate:"required"`
}

// createAccount 處理 POST /v1/accounts。
func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.store.Create(r.Context(), req.OwnerName, *req.InitialBalance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAccountResponse{ID: a.ID, OwnerName: a.OwnerName, Balance: a.Balance})
	s.afterMutation(r)
}

// listAccounts 處理 GET /v1/accounts。
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// getAccount 處理 GET /v1/accounts/{id}。
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, http.StatusBadRequest, "invalid account id")
		return
	}
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// transfer 處理 POST /v1/accounts/transfer。
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, *req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "OK", Message: "Transfer completed"})
	s.afterMutation(r)
}

// health 提供健康檢查端點：GET /health。
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode 解析並驗證 JSON 請求；失敗時已寫出 400 回應。
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeErr(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// afterMutation 觸發持久化；失敗只記錄，不影響已成功的回應。
func (s *Server) afterMutation(r *http.Request) {
	if s.persist == nil {
		return
	}
	if err := s.persist(); err != nil {
		s.logger.Warn("persist snapshot failed", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
	}
}

// statusFor 把 bank 層錯誤對應到 HTTP 狀態碼。
func statusFor(err error) int {
	switch {
	case errors.Is(err, bank.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bank.ErrInsufficient), errors.Is(err, bank.ErrDuplicateOwner):
		return http.StatusConflict
	case errors.Is(err, bank.ErrBadAmount), errors.Is(err, bank.ErrSameAccount), errors.Is(err, bank.ErrBadOwner):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
