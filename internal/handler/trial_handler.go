package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hifarrer/trialmatch/internal/match"
	"github.com/hifarrer/trialmatch/internal/middleware"
	"github.com/hifarrer/trialmatch/internal/model"
	"github.com/hifarrer/trialmatch/internal/usertrials"
)

// defaultTrialsPerPage は保存済みマッチ一覧の1ページあたりの件数（デフォルト）。
const defaultTrialsPerPage = 20

// MatchServiceInterface は治験検索ハンドラーが必要とするサービスインターフェース。
type MatchServiceInterface interface {
	// Search は条件に合致する治験を外部APIから検索し、マッチを非同期で永続化する。
	Search(ctx context.Context, userID string, criteria model.TrialMatchCriteria) ([]model.Trial, error)
}

// UserTrialsServiceInterface は保存済みマッチ一覧ハンドラーが必要とするサービスインターフェース。
type UserTrialsServiceInterface interface {
	// GetUserTrials はユーザーの保存済みマッチをページネーション付きで返す。
	GetUserTrials(ctx context.Context, userID string, page, limit int, cancerType, status string) (*usertrials.Result, error)
}

// TrialHandler は治験検索・一覧のHTTPハンドラー。
type TrialHandler struct {
	matchService      MatchServiceInterface
	userTrialsService UserTrialsServiceInterface
}

// NewTrialHandler はTrialHandlerを生成する。
func NewTrialHandler(matchService MatchServiceInterface, userTrialsService UserTrialsServiceInterface) *TrialHandler {
	return &TrialHandler{
		matchService:      matchService,
		userTrialsService: userTrialsService,
	}
}

// searchRequest は治験検索リクエストのボディ。
type searchRequest struct {
	CancerType string   `json:"cancerType"`
	Mutations  []string `json:"mutations"`
	ZipCode    string   `json:"zipCode"`
	Statuses   []string `json:"statuses"`
	Age        int      `json:"age"`
	Refresh    bool     `json:"refresh"`
}

// searchResponse は治験検索のレスポンス。
// RefreshAfterMSはバックグラウンド永続化の完了を待つ目安時間で、
// クライアントはこの時間の経過後に保存済み一覧を再取得できる。
type searchResponse struct {
	Trials         []model.Trial `json:"trials"`
	RefreshAfterMS int           `json:"refresh_after_ms"`
}

// SearchTrials は条件に合致する治験を検索する。
// POST /api/trials/search
func (h *TrialHandler) SearchTrials(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}

	criteria := model.TrialMatchCriteria{
		CancerType: req.CancerType,
		Mutations:  req.Mutations,
		ZipCode:    req.ZipCode,
		Statuses:   req.Statuses,
		Age:        req.Age,
		Refresh:    req.Refresh,
	}

	trials, err := h.matchService.Search(r.Context(), userID, criteria)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, searchResponse{
		Trials:         trials,
		RefreshAfterMS: match.PersistLagHint,
	})
}

// GetUserTrials はユーザーの保存済みマッチ一覧を取得する。
// GET /api/trials?page=1&limit=20&cancerType=xxx&status=RECRUITING
func (h *TrialHandler) GetUserTrials(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	query := r.URL.Query()
	page := parsePositiveInt(query.Get("page"), 1)
	limit := parsePositiveInt(query.Get("limit"), defaultTrialsPerPage)

	result, err := h.userTrialsService.GetUserTrials(
		r.Context(), userID, page, limit,
		query.Get("cancerType"), query.Get("status"),
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// --- ヘルパー関数 ---

// parsePositiveInt はクエリパラメータを正の整数として解釈する。
// 空文字・不正値・0以下はデフォルト値にフォールバックする。
func parsePositiveInt(value string, defaultValue int) int {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// apiErrorResponse はエラーレスポンスのJSON構造。
type apiErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Error:   apiErr.Message,
		Details: apiErr.Details,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred.",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorのコードをHTTPステータスコードに対応付ける。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
