package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checkerはnilを許容する。
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// Check はDB疎通を確認してサービスの状態を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := h.checker.PingContext(ctx); err != nil {
			writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, healthResponse{Status: "ok"})
}
