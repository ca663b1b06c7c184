package model

import "time"

// CredentialRecord は永続化される暗号化済みクレデンシャル。
// 認可成功ごとに丸ごと書き換えられ、部分更新はされない。
type CredentialRecord struct {
	Slot                  int
	EncryptedRefreshToken string
	EncryptedAccessToken  string
	ExpiresAt             time.Time
	UpdatedAt             time.Time
}

// Credential は復号済みクレデンシャル。メモリ上でのみ扱い、ログに出力しない。
type Credential struct {
	Slot         int
	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time
}

// ExpiredAt はskewを考慮してnow時点でアクセストークンが失効しているかを返す。
func (c *Credential) ExpiredAt(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(c.ExpiresAt)
}

// TenantSettings はドラフトとは独立したテナント単位の設定。
type TenantSettings struct {
	TenantID       string
	CredentialSlot int
	CalendarLimit  int
	UpdatedAt      time.Time
}
