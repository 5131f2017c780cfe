// internal/server/response.go
//
// 本檔負責統一 HTTP 回應格式。
//   - 成功回應：直接編碼資料（Content-Type: application/json）。
//   - 錯誤回應：{"status":"ERROR","message":"..."}；未預期的錯誤只回傳
//     "Internal server error"，細節寫入日誌。
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const internalErrorMessage = "Internal server error"

type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeJSON 統一輸出成功回應。
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr 輸出錯誤回應。
func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, statusBody{Status: "ERROR", Message: msg})
}

// fail 依錯誤種類決定狀態碼；500 時隱藏細節並記錄錯誤。
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("unexpected error",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErr(w, code, internalErrorMessage)
		return
	}
	s.logger.Warn("request rejected",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeErr(w, code, err.Error())
}

// newValidator 建立以 JSON 欄位名稱回報錯誤的 validator。
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage 把 validator 的錯誤轉成可讀的訊息。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
