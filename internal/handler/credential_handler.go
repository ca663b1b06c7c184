package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calprov/internal/deviceauth"
	"github.com/hitoshi/calprov/internal/middleware"
	"github.com/hitoshi/calprov/internal/model"
)

// DeviceAuthorizer はクレデンシャルハンドラーが必要とするデバイス認可のインターフェース。
// deviceauth.Schedulerがそのまま満たす。
type DeviceAuthorizer interface {
	RequestCode(ctx context.Context, slot int) (*deviceauth.Handle, error)
	Get(slot int) (*deviceauth.Handle, bool)
}

// CredentialHandler はクレデンシャルスロットのデバイス認可を扱うHTTPハンドラー。
type CredentialHandler struct {
	authorizer DeviceAuthorizer
	slotCount  int
}

// NewCredentialHandler はCredentialHandlerを生成する。
// slotCountは設定されたクレデンシャルスロット数で、1からslotCountまでを受け付ける。
func NewCredentialHandler(authorizer DeviceAuthorizer, slotCount int) *CredentialHandler {
	return &CredentialHandler{authorizer: authorizer, slotCount: slotCount}
}

// authorizationResponse はデバイス認可の進行状況レスポンス。
type authorizationResponse struct {
	Slot            int       `json:"slot"`
	PollID          string    `json:"poll_id"`
	State           string    `json:"state"`
	VerificationURL string    `json:"verification_url"`
	UserCode        string    `json:"user_code"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// StartAuthorization はスロットのデバイス認可を開始する。
// 応答にはユーザーが開くURLと入力するコードを含む。ポーリングの完了は待たない。
// POST /api/credentials/{slot}/authorize
func (h *CredentialHandler) StartAuthorization(w http.ResponseWriter, r *http.Request) {
	slot, ok := h.parseSlot(w, r)
	if !ok {
		return
	}

	handle, err := h.authorizer.RequestCode(r.Context(), slot)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toAuthorizationResponse(handle))
}

// GetAuthorization はスロットで進行中のデバイス認可を返す。
// GET /api/credentials/{slot}/authorize
func (h *CredentialHandler) GetAuthorization(w http.ResponseWriter, r *http.Request) {
	slot, ok := h.parseSlot(w, r)
	if !ok {
		return
	}

	handle, found := h.authorizer.Get(slot)
	if !found {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "AUTHORIZATION_NOT_FOUND",
			Message:  fmt.Sprintf("クレデンシャルスロット%dで進行中のデバイス認可はありません。", slot),
			Category: "auth",
			Action:   "必要に応じてPOSTで認可を開始してください。",
		})
		return
	}

	writeJSON(w, http.StatusOK, toAuthorizationResponse(handle))
}

func (h *CredentialHandler) parseSlot(w http.ResponseWriter, r *http.Request) (int, bool) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 1 || slot > h.slotCount {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationAPIError("slot", fmt.Sprintf("1から%dまでの整数を指定してください", h.slotCount)))
		return 0, false
	}
	return slot, true
}

func toAuthorizationResponse(h *deviceauth.Handle) authorizationResponse {
	return authorizationResponse{
		Slot:            h.Slot(),
		PollID:          h.PollID(),
		State:           h.State().String(),
		VerificationURL: h.VerificationURL(),
		UserCode:        h.UserCode(),
		ExpiresAt:       h.ExpiresAt(),
	}
}
