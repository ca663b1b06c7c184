package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/calprov/internal/middleware"
	"github.com/hitoshi/calprov/internal/model"
)

// invalidRequestError はリクエストボディを解析できない場合のエラー。
var invalidRequestError = &model.APIError{
	Code:     "INVALID_REQUEST",
	Message:  "リクエストボディの解析に失敗しました。",
	Category: "validation",
	Action:   "正しいJSON形式でリクエストしてください。",
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層のエラーを統一エラーフォーマットに変換して書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	statusCode, apiErr := toAPIError(err)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("internal server error", slog.String("error", err.Error()))
	}
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleCalendarError はカレンダー番号を指定する操作のエラーを書き込む。
func handleCalendarError(w http.ResponseWriter, number int, err error) {
	if errors.Is(err, model.ErrCalendarNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewCalendarNotFoundError(number))
		return
	}
	handleServiceError(w, err)
}

// toAPIError はドメインエラーをHTTPステータスコードとAPIErrorにマッピングする。
// 内部の詳細はレスポンスに含めない。
func toAPIError(err error) (int, *model.APIError) {
	var (
		validationErr *model.ValidationError
		credentialErr *model.CredentialRequiredError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, model.NewValidationAPIError(validationErr.Field, validationErr.Reason)
	case errors.Is(err, model.ErrAlreadyActive):
		return http.StatusConflict, model.NewDraftActiveError()
	case errors.Is(err, model.ErrNoActiveDraft):
		return http.StatusNotFound, model.NewDraftNotFoundError()
	case errors.Is(err, model.ErrCommitInProgress):
		return http.StatusConflict, model.NewDraftCommittingError()
	case errors.Is(err, model.ErrNotReady):
		return http.StatusUnprocessableEntity, model.NewDraftNotReadyError()
	case errors.As(err, &credentialErr):
		apiErr := model.NewCredentialRequiredError()
		apiErr.Action = fmt.Sprintf("GET /api/credentials/%d/authorize で表示されるコードで認可を完了した後、再度確定してください。", credentialErr.Slot)
		return http.StatusConflict, apiErr
	case errors.Is(err, model.ErrCredentialRequired):
		return http.StatusConflict, model.NewCredentialRequiredError()
	case errors.Is(err, model.ErrAuthInProgress):
		return http.StatusConflict, model.NewAuthInProgressError()
	case errors.Is(err, model.ErrCalendarNotFound):
		return http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeCalendarNotFound,
			Message:  "指定されたカレンダーが見つかりません。",
			Category: "provider",
			Action:   "カレンダー番号を確認してください。",
		}
	case errors.Is(err, model.ErrCalendarLimit):
		return http.StatusConflict, model.NewCalendarLimitError()
	case errors.Is(err, model.ErrProvider), errors.Is(err, model.ErrNetwork):
		return http.StatusBadGateway, model.NewProviderFailedError()
	default:
		return http.StatusInternalServerError, &model.APIError{
			Code:     model.ErrCodeInternal,
			Message:  "内部エラーが発生しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
}
