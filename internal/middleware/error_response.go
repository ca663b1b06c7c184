package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/calprov/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// retryAfterByCode は時間をおけば解消するエラーのRetry-After秒数。
var retryAfterByCode = map[string]int{
	model.ErrCodeProviderFailed:  30,
	model.ErrCodeAuthInProgress:  5, // デバイス認可の標準ポーリング間隔
	model.ErrCodeDraftCommitting: 2,
}

// WriteErrorResponse はAPIErrorを統一フォーマットで書き込む。
// 再試行で解消するエラーコードにはRetry-Afterを付ける。呼び出し側が先に設定した値は上書きしない。
// 認可コードの案内を含むことがあるため、エラーレスポンスはキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if h.Get("Retry-After") == "" {
		if sec, ok := retryAfterByCode[apiErr.Code]; ok {
			h.Set("Retry-After", strconv.Itoa(sec))
		}
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部エラーを書き込む。詳細はログにのみ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
