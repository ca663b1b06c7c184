// Package model はドメインモデルとエラー分類を定義する。
package model

import (
	"errors"
	"fmt"
)

// ドメインエラー。呼び出し側はerrors.Isで判定する。
var (
	// ErrValidation はドラフト項目の値が不正であることを示す。ドラフトは保持される。
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTimezone はIANAタイムゾーンIDとして解釈できない値を示す。
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrAlreadyActive は同一テナントに進行中のドラフトが既に存在することを示す。
	ErrAlreadyActive = errors.New("draft already active")
	// ErrNoActiveDraft はテナントに進行中のドラフトが存在しないことを示す。
	ErrNoActiveDraft = errors.New("no active draft")
	// ErrNotReady は必須項目が揃う前にコミットしようとしたことを示す。
	ErrNotReady = errors.New("draft not ready")
	// ErrCommitInProgress はドラフトをプロバイダーに反映している最中であることを示す。
	ErrCommitInProgress = errors.New("draft commit in progress")

	// ErrAuthDenied はユーザーがデバイス認可を拒否したことを示す。
	ErrAuthDenied = errors.New("authorization denied")
	// ErrAuthExpired はデバイスコードが期限切れになったことを示す。
	ErrAuthExpired = errors.New("authorization expired")
	// ErrAuthInProgress は同じクレデンシャルスロットで認可ポーリングが進行中であることを示す。
	ErrAuthInProgress = errors.New("authorization already in progress")
	// ErrCredentialRequired は有効なクレデンシャルが存在しないため認可が必要なことを示す。
	ErrCredentialRequired = errors.New("credential authorization required")

	// ErrProvider はカレンダープロバイダーが失敗レスポンスを返したことを示す。
	ErrProvider = errors.New("provider error")
	// ErrNetwork はプロバイダーへの通信自体が失敗したことを示す。
	ErrNetwork = errors.New("network error")
	// ErrPersistence は永続化層が利用できないことを示す。
	ErrPersistence = errors.New("persistence error")
	// ErrDecryption は保存済みクレデンシャルを現在の鍵で復号できないことを示す。
	ErrDecryption = errors.New("decryption error")

	// ErrCalendarNotFound は指定番号のカレンダーが存在しないことを示す。
	ErrCalendarNotFound = errors.New("calendar not found")
	// ErrCalendarLimit はテナントのカレンダー数が上限に達していることを示す。
	ErrCalendarLimit = errors.New("calendar limit reached")
)

// ValidationError は特定フィールドの検証エラー。
// errors.Is(err, ErrValidation) が常に真になる。
type ValidationError struct {
	Field  string
	Reason string
	cause  error
}

// NewValidationError はValidationErrorを生成する。
// causeにはErrInvalidTimezone等のより具体的なセンチネルを渡せる。
func NewValidationError(field, reason string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, cause: cause}
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is はErrValidationおよび原因エラーとの一致を判定する。
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return e.cause != nil && target == e.cause
}

// Unwrap は原因エラーを返す。
func (e *ValidationError) Unwrap() error {
	return e.cause
}

// CredentialRequiredError はスロットに有効なクレデンシャルがないことを示す。
// errors.Is(err, ErrCredentialRequired) が常に真になる。
type CredentialRequiredError struct {
	Slot  int
	cause error
}

// NewCredentialRequiredErr はCredentialRequiredErrorを生成する。
func NewCredentialRequiredErr(slot int, cause error) *CredentialRequiredError {
	return &CredentialRequiredError{Slot: slot, cause: cause}
}

// Error はerrorインターフェースを実装する。
func (e *CredentialRequiredError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("credential slot %d requires authorization: %v", e.Slot, e.cause)
	}
	return fmt.Sprintf("credential slot %d requires authorization", e.Slot)
}

// Is はErrCredentialRequiredとの一致を判定する。
func (e *CredentialRequiredError) Is(target error) bool {
	return target == ErrCredentialRequired
}

// Unwrap は原因エラーを返す。
func (e *CredentialRequiredError) Unwrap() error {
	return e.cause
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, draft, provider, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeDraftActive        = "DRAFT_ALREADY_ACTIVE"
	ErrCodeDraftNotFound      = "DRAFT_NOT_FOUND"
	ErrCodeDraftNotReady      = "DRAFT_NOT_READY"
	ErrCodeDraftCommitting    = "DRAFT_COMMIT_IN_PROGRESS"
	ErrCodeCredentialRequired = "CREDENTIAL_REQUIRED"
	ErrCodeAuthInProgress     = "AUTHORIZATION_IN_PROGRESS"
	ErrCodeCalendarNotFound   = "CALENDAR_NOT_FOUND"
	ErrCodeCalendarLimit      = "CALENDAR_LIMIT"
	ErrCodeProviderFailed     = "PROVIDER_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// NewValidationAPIError は入力検証エラーを生成する。
func NewValidationAPIError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です (%s): %s", field, reason),
		Category: "validation",
		Action:   "値を確認して再度入力してください。",
	}
}

// NewDraftActiveError は進行中ドラフト重複エラーを生成する。
func NewDraftActiveError() *APIError {
	return &APIError{
		Code:     ErrCodeDraftActive,
		Message:  "このテナントでは既にカレンダーの作成・編集が進行中です。",
		Category: "draft",
		Action:   "進行中のドラフトを確定するか、キャンセルしてから再度お試しください。",
	}
}

// NewDraftNotFoundError はドラフト未開始エラーを生成する。
func NewDraftNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeDraftNotFound,
		Message:  "進行中のドラフトがありません。",
		Category: "draft",
		Action:   "先にカレンダーの作成または編集を開始してください。",
	}
}

// NewDraftNotReadyError は必須項目不足エラーを生成する。
func NewDraftNotReadyError() *APIError {
	return &APIError{
		Code:     ErrCodeDraftNotReady,
		Message:  "必須項目（名前、タイムゾーン、プロバイダー）が設定されていません。",
		Category: "draft",
		Action:   "不足している項目を設定してから確定してください。",
	}
}

// NewDraftCommittingError は確定処理中のドラフトへの操作エラーを生成する。
func NewDraftCommittingError() *APIError {
	return &APIError{
		Code:     ErrCodeDraftCommitting,
		Message:  "ドラフトを確定しています。",
		Category: "draft",
		Action:   "確定処理の完了を待ってから再度お試しください。",
	}
}

// NewCredentialRequiredError はクレデンシャル未認可エラーを生成する。
func NewCredentialRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialRequired,
		Message:  "カレンダープロバイダーのクレデンシャルが認可されていません。デバイス認可を開始しました。",
		Category: "auth",
		Action:   "管理者がデバイス認可を完了した後、再度確定してください。",
	}
}

// NewAuthInProgressError は認可ポーリング重複エラーを生成する。
func NewAuthInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthInProgress,
		Message:  "このクレデンシャルのデバイス認可は既に進行中です。",
		Category: "auth",
		Action:   "表示済みのコードで認可を完了するか、期限切れまでお待ちください。",
	}
}

// NewCalendarNotFoundError はカレンダー未検出エラーを生成する。
func NewCalendarNotFoundError(number int) *APIError {
	return &APIError{
		Code:     ErrCodeCalendarNotFound,
		Message:  fmt.Sprintf("指定されたカレンダーが見つかりません: %d", number),
		Category: "provider",
		Action:   "カレンダー番号を確認してください。",
	}
}

// NewCalendarLimitError はカレンダー数上限エラーを生成する。
func NewCalendarLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeCalendarLimit,
		Message:  "カレンダー数が上限に達しています。",
		Category: "provider",
		Action:   "不要なカレンダーを削除するか、上限設定を変更してください。",
	}
}

// NewProviderFailedError はプロバイダー呼び出し失敗エラーを生成する。
// 内部の詳細は含めない。
func NewProviderFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderFailed,
		Message:  "カレンダープロバイダーとの通信に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。入力内容は保持されています。",
	}
}
