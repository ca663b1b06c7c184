package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/calprov/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用したテナント設定リポジトリ。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// FindByTenantID はテナント設定を取得する。存在しない場合はnilを返す。
func (r *PostgresSettingsRepo) FindByTenantID(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	s := &model.TenantSettings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT tenant_id, credential_slot, calendar_limit, updated_at
		 FROM tenant_settings WHERE tenant_id = $1`,
		tenantID,
	).Scan(&s.TenantID, &s.CredentialSlot, &s.CalendarLimit, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant settings: %w", err)
	}
	return s, nil
}

// Upsert はテナント設定を作成または更新する。
func (r *PostgresSettingsRepo) Upsert(ctx context.Context, s *model.TenantSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenant_settings (tenant_id, credential_slot, calendar_limit, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		     credential_slot = EXCLUDED.credential_slot,
		     calendar_limit = EXCLUDED.calendar_limit,
		     updated_at = EXCLUDED.updated_at`,
		s.TenantID, s.CredentialSlot, s.CalendarLimit, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant settings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
