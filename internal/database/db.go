package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open はPostgreSQLデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// ポーリングのワーカーとHTTPハンドラが同時に書き込む程度の規模を想定
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return db, nil
}
