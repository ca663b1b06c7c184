// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/calprov/internal/model"
)

// CredentialRepository は暗号化済みクレデンシャルの永続化インターフェース。
type CredentialRepository interface {
	// FindBySlot は指定スロットのレコードを取得する。存在しない場合はnilを返す。
	FindBySlot(ctx context.Context, slot int) (*model.CredentialRecord, error)

	// Upsert はスロットのレコードを丸ごと置き換える。
	// 単一ステートメントで書き込み、部分的なレコードが観測されることはない。
	Upsert(ctx context.Context, record *model.CredentialRecord) error
}

// SettingsRepository はテナント設定の永続化インターフェース。
type SettingsRepository interface {
	// FindByTenantID はテナント設定を取得する。存在しない場合はnilを返す。
	FindByTenantID(ctx context.Context, tenantID string) (*model.TenantSettings, error)

	// Upsert はテナント設定を作成または更新する。
	Upsert(ctx context.Context, settings *model.TenantSettings) error
}

// CalendarRepository はテナントのカレンダー番号とプロバイダー側IDの対応を永続化する。
type CalendarRepository interface {
	// FindByNumber はテナントの指定番号のカレンダーを取得する。存在しない場合はnilを返す。
	FindByNumber(ctx context.Context, tenantID string, number int) (*model.Calendar, error)

	// FindByResourceID はプロバイダー側IDでカレンダーを取得する。存在しない場合はnilを返す。
	FindByResourceID(ctx context.Context, tenantID, resourceID string) (*model.Calendar, error)

	// CountByTenantID はテナントのカレンダー数を返す。
	CountByTenantID(ctx context.Context, tenantID string) (int, error)

	// Create はカレンダーを登録し、採番したカレンダー番号をcalに設定する。
	Create(ctx context.Context, cal *model.Calendar) error

	// Delete はプロバイダー側IDでカレンダーの対応を削除する。
	Delete(ctx context.Context, tenantID, resourceID string) error
}
