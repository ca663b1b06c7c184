package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/calprov/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用したクレデンシャルリポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindBySlot は指定スロットのレコードを取得する。存在しない場合はnilを返す。
func (r *PostgresCredentialRepo) FindBySlot(ctx context.Context, slot int) (*model.CredentialRecord, error) {
	rec := &model.CredentialRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT credential_number, refresh_token, access_token, expires_at, updated_at
		 FROM credentials WHERE credential_number = $1`,
		slot,
	).Scan(&rec.Slot, &rec.EncryptedRefreshToken, &rec.EncryptedAccessToken, &rec.ExpiresAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	return rec, nil
}

// Upsert はスロットのレコードを丸ごと置き換える。
// INSERT ON CONFLICTの単一ステートメントなので行単位でアトミックに反映される。
func (r *PostgresCredentialRepo) Upsert(ctx context.Context, rec *model.CredentialRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (credential_number, refresh_token, access_token, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (credential_number) DO UPDATE SET
		     refresh_token = EXCLUDED.refresh_token,
		     access_token = EXCLUDED.access_token,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = EXCLUDED.updated_at`,
		rec.Slot, rec.EncryptedRefreshToken, rec.EncryptedAccessToken, rec.ExpiresAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
