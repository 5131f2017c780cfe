// internal/server/router.go
//
// 本檔負責 HTTP 路由註冊與中介層組裝。
//   - handler.go 定義「如何處理請求」
//   - router.go 定義「請求如何被導向」
//   - cmd/server 組裝整體應用（注入 Engine、Store、Persist Hook）
package server

import "net/http"

// Router 建立並回傳整個 HTTP 處理鏈。
// 採明確路由註冊（Go 1.22 方法與路徑樣式），不依賴反射。
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康檢查：可供監控或 Docker liveness probe 使用。
	mux.HandleFunc("GET /health", s.health)

	// 記錄等級：zap.AtomicLevel 本身即處理 GET 與 PUT {"level":"debug"}。
	if s.level != nil {
		mux.Handle("GET /log/level", s.level)
		mux.Handle("PUT /log/level", s.level)
	}

	// 帳戶操作
	mux.HandleFunc("POST /v1/accounts", s.createAccount)
	mux.HandleFunc("GET /v1/accounts", s.listAccounts)
	mux.HandleFunc("GET /v1/accounts/{id}", s.getAccount)

	// 轉帳
	mux.HandleFunc("POST /v1/accounts/transfer", s.transfer)

	// 同時掛在 /api/ 下，方便放在反向代理之後。
	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", mux))
	root.Handle("/", mux)

	// 由外而內：請求 ID → 存取日誌與 span → panic 復原 → 路由
	return requestID(s.accessLog(s.recoverer(root)))
}
