package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calprov/internal/calendar"
	"github.com/hitoshi/calprov/internal/draft"
	"github.com/hitoshi/calprov/internal/middleware"
	"github.com/hitoshi/calprov/internal/model"
)

// CalendarServiceInterface はカレンダーハンドラーが必要とするサービスインターフェース。
// calendar.Serviceがそのまま満たす。
type CalendarServiceInterface interface {
	StartCreate(ctx context.Context, tenantID string, req calendar.StartCreateRequest) (*calendar.StartResult, error)
	StartEdit(ctx context.Context, tenantID string, number int) (*calendar.StartResult, error)
	SetName(tenantID, name string) (*draft.Draft, error)
	SetDescription(tenantID, description string) (*draft.Draft, error)
	SetTimezone(tenantID, timezone string) (*draft.Draft, error)
	SetProviderKind(tenantID, provider string) (*draft.Draft, error)
	Review(tenantID string) (*draft.Draft, error)
	Confirm(ctx context.Context, tenantID string) (*calendar.ConfirmResult, error)
	Cancel(tenantID string) error
	Delete(ctx context.Context, tenantID string, number int) error
	GetSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error)
	UpdateSettings(ctx context.Context, tenantID string, slot, limit int) (*model.TenantSettings, error)
}

// CalendarHandler はカレンダープロビジョニングのHTTPハンドラー。
type CalendarHandler struct {
	service CalendarServiceInterface
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(service CalendarServiceInterface) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// startCreateRequest は作成ドラフト開始リクエストのボディ。
type startCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Timezone    string `json:"timezone"`
	Provider    string `json:"provider"`
}

// startEditRequest は編集ドラフト開始リクエストのボディ。
type startEditRequest struct {
	CalendarNumber int `json:"calendar_number"`
}

// updateSettingsRequest はテナント設定更新リクエストのボディ。
type updateSettingsRequest struct {
	CredentialSlot *int `json:"credential_slot"`
	CalendarLimit  *int `json:"calendar_limit"`
}

// draftResponse はドラフトのAPIレスポンス。
type draftResponse struct {
	ID             string    `json:"id"`
	Mode           string    `json:"mode"`
	CalendarNumber int       `json:"calendar_number,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Timezone       string    `json:"timezone"`
	Provider       string    `json:"provider"`
	Ready          bool      `json:"ready"`
	Missing        []string  `json:"missing"`
	CreatedAt      time.Time `json:"created_at"`
}

// startDraftResponse はドラフト開始のAPIレスポンス。
// 省略可能な項目が不正だった場合はwarningに理由を含める。
type startDraftResponse struct {
	Draft   draftResponse     `json:"draft"`
	Warning *apiErrorResponse `json:"warning,omitempty"`
}

// calendarResponse は確定済みカレンダーのAPIレスポンス。
type calendarResponse struct {
	Number         int    `json:"calendar_number"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Timezone       string `json:"timezone"`
	Provider       string `json:"provider"`
	CredentialSlot int    `json:"credential_slot"`
	Link           string `json:"link,omitempty"`
}

// confirmResponse はドラフト確定のAPIレスポンス。
type confirmResponse struct {
	Mode     string           `json:"mode"`
	Calendar calendarResponse `json:"calendar"`
}

// settingsResponse はテナント設定のAPIレスポンス。
type settingsResponse struct {
	CredentialSlot int `json:"credential_slot"`
	CalendarLimit  int `json:"calendar_limit"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StartCreate は作成ドラフトを開始する。
// POST /api/tenants/{tenantID}/draft
func (h *CalendarHandler) StartCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	var req startCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError)
		return
	}

	res, err := h.service.StartCreate(r.Context(), tenantID, calendar.StartCreateRequest{
		Name:        req.Name,
		Description: req.Description,
		Timezone:    req.Timezone,
		Provider:    req.Provider,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toStartDraftResponse(res))
}

// StartEdit は既存カレンダーの編集ドラフトを開始する。
// POST /api/tenants/{tenantID}/draft/edit
func (h *CalendarHandler) StartEdit(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	var req startEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError)
		return
	}

	res, err := h.service.StartEdit(r.Context(), tenantID, req.CalendarNumber)
	if err != nil {
		handleCalendarError(w, req.CalendarNumber, err)
		return
	}

	writeJSON(w, http.StatusCreated, toStartDraftResponse(res))
}

// Review は進行中のドラフトを返す。
// GET /api/tenants/{tenantID}/draft
func (h *CalendarHandler) Review(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	d, err := h.service.Review(tenantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDraftResponse(d))
}

// SetField はドラフトの1項目を置き換えるハンドラーを返す。
// ボディは {"<field>": "値"} の形式で、descriptionのみ空文字列を許可する。
// PUT /api/tenants/{tenantID}/draft/{field}
func (h *CalendarHandler) SetField(field string) http.HandlerFunc {
	var set func(tenantID, value string) (*draft.Draft, error)
	switch field {
	case "name":
		set = h.service.SetName
	case "description":
		set = h.service.SetDescription
	case "timezone":
		set = h.service.SetTimezone
	case "provider":
		set = h.service.SetProviderKind
	default:
		panic("unknown draft field: " + field)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := middleware.TenantIDFromContext(r.Context())

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError)
			return
		}
		value, ok := body[field]
		if !ok {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewValidationAPIError(field, field+"を指定してください"))
			return
		}

		d, err := set(tenantID, value)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDraftResponse(d))
	}
}

// Confirm はドラフトを確定してプロバイダーに反映する。
// POST /api/tenants/{tenantID}/draft/confirm
func (h *CalendarHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	res, err := h.service.Confirm(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	statusCode := http.StatusCreated
	if res.Mode.IsEdit() {
		statusCode = http.StatusOK
	}
	writeJSON(w, statusCode, confirmResponse{
		Mode:     res.Mode.String(),
		Calendar: toCalendarResponse(res.Calendar),
	})
}

// Cancel は進行中のドラフトを破棄する。
// DELETE /api/tenants/{tenantID}/draft
func (h *CalendarHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	if err := h.service.Cancel(tenantID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCalendar はカレンダーを削除する。
// DELETE /api/tenants/{tenantID}/calendars/{number}
func (h *CalendarHandler) DeleteCalendar(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationAPIError("calendar_number", "1以上の整数を指定してください"))
		return
	}

	if err := h.service.Delete(r.Context(), tenantID, number); err != nil {
		handleCalendarError(w, number, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSettings はテナント設定を返す。
// GET /api/tenants/{tenantID}/settings
func (h *CalendarHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	settings, err := h.service.GetSettings(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		CredentialSlot: settings.CredentialSlot,
		CalendarLimit:  settings.CalendarLimit,
	})
}

// UpdateSettings はテナント設定を更新する。省略した項目は現在の値を維持する。
// PUT /api/tenants/{tenantID}/settings
func (h *CalendarHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantIDFromContext(r.Context())

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError)
		return
	}

	current, err := h.service.GetSettings(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	slot, limit := current.CredentialSlot, current.CalendarLimit
	if req.CredentialSlot != nil {
		slot = *req.CredentialSlot
	}
	if req.CalendarLimit != nil {
		limit = *req.CalendarLimit
	}

	settings, err := h.service.UpdateSettings(r.Context(), tenantID, slot, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		CredentialSlot: settings.CredentialSlot,
		CalendarLimit:  settings.CalendarLimit,
	})
}

func toStartDraftResponse(res *calendar.StartResult) startDraftResponse {
	resp := startDraftResponse{Draft: toDraftResponse(res.Draft)}
	if res.FieldErr != nil {
		_, apiErr := toAPIError(res.FieldErr)
		resp.Warning = &apiErrorResponse{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		}
	}
	return resp
}

func toDraftResponse(d *draft.Draft) draftResponse {
	resp := draftResponse{
		ID:          d.ID(),
		Mode:        d.Mode().String(),
		Name:        d.Name(),
		Description: d.Description(),
		Timezone:    d.Timezone(),
		Provider:    string(d.ProviderKind()),
		Ready:       d.IsReady(),
		Missing:     []string{},
		CreatedAt:   d.CreatedAt(),
	}
	if target, ok := d.Target(); ok {
		resp.CalendarNumber = target.Number
	}
	if d.Name() == "" {
		resp.Missing = append(resp.Missing, "name")
	}
	if d.Timezone() == "" {
		resp.Missing = append(resp.Missing, "timezone")
	}
	if d.ProviderKind() == model.ProviderKindUnset {
		resp.Missing = append(resp.Missing, "provider")
	}
	return resp
}

func toCalendarResponse(cal *model.Calendar) calendarResponse {
	return calendarResponse{
		Number:         cal.Number,
		Name:           cal.Name,
		Description:    cal.Description,
		Timezone:       cal.Timezone,
		Provider:       string(cal.Provider),
		CredentialSlot: cal.CredentialSlot,
		Link:           cal.Link,
	}
}
