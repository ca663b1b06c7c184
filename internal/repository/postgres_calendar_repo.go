package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/calprov/internal/model"
)

// PostgresCalendarRepo はPostgreSQLを使用したカレンダー対応表リポジトリ。
type PostgresCalendarRepo struct {
	db *sql.DB
}

// NewPostgresCalendarRepo はPostgresCalendarRepoを生成する。
func NewPostgresCalendarRepo(db *sql.DB) *PostgresCalendarRepo {
	return &PostgresCalendarRepo{db: db}
}

const calendarColumns = `tenant_id, calendar_number, calendar_id, provider, credential_slot, created_at`

func scanCalendar(row *sql.Row) (*model.Calendar, error) {
	cal := &model.Calendar{}
	var provider string
	err := row.Scan(&cal.TenantID, &cal.Number, &cal.ResourceID, &provider, &cal.CredentialSlot, &cal.CreatedAt)
	if err != nil {
		return nil, err
	}
	cal.Provider = model.ProviderKind(provider)
	return cal, nil
}

// FindByNumber はテナントの指定番号のカレンダーを取得する。存在しない場合はnilを返す。
func (r *PostgresCalendarRepo) FindByNumber(ctx context.Context, tenantID string, number int) (*model.Calendar, error) {
	cal, err := scanCalendar(r.db.QueryRowContext(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE tenant_id = $1 AND calendar_number = $2`,
		tenantID, number,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar by number: %w", err)
	}
	return cal, nil
}

// FindByResourceID はプロバイダー側IDでカレンダーを取得する。存在しない場合はnilを返す。
func (r *PostgresCalendarRepo) FindByResourceID(ctx context.Context, tenantID, resourceID string) (*model.Calendar, error) {
	cal, err := scanCalendar(r.db.QueryRowContext(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE tenant_id = $1 AND calendar_id = $2`,
		tenantID, resourceID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar by resource id: %w", err)
	}
	return cal, nil
}

// CountByTenantID はテナントのカレンダー数を返す。
func (r *PostgresCalendarRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM calendars WHERE tenant_id = $1`,
		tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count calendars: %w", err)
	}
	return n, nil
}

// Create はカレンダーを登録する。
// カレンダー番号はテナント内の最大値+1で採番し、cal.Numberに設定する。
func (r *PostgresCalendarRepo) Create(ctx context.Context, cal *model.Calendar) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO calendars (tenant_id, calendar_number, calendar_id, provider, credential_slot, created_at)
		 SELECT $1, COALESCE(MAX(calendar_number), 0) + 1, $2, $3, $4, $5
		 FROM calendars WHERE tenant_id = $1
		 RETURNING calendar_number`,
		cal.TenantID, cal.ResourceID, string(cal.Provider), cal.CredentialSlot, cal.CreatedAt,
	).Scan(&cal.Number)
	if err != nil {
		return fmt.Errorf("failed to create calendar: %w", err)
	}
	return nil
}

// Delete はプロバイダー側IDでカレンダーの対応を削除する。
func (r *PostgresCalendarRepo) Delete(ctx context.Context, tenantID, resourceID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM calendars WHERE tenant_id = $1 AND calendar_id = $2`,
		tenantID, resourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete calendar: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CalendarRepository = (*PostgresCalendarRepo)(nil)
