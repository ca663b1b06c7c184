// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、スキーマが不整合な状態であることを示す。
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaStatus はスキーマのバージョン状態を表す。
// Versionが0の場合はマイグレーションが一度も適用されていない。
type SchemaStatus struct {
	Version uint
	Dirty   bool
}

// MigrationResult はRunMigrationsの実行結果を表す。
type MigrationResult struct {
	Before SchemaStatus
	After  SchemaStatus
}

// Applied は今回の実行でバージョンが進んだかどうかを返す。
func (r MigrationResult) Applied() bool {
	return r.After.Version != r.Before.Version
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// loggerがnilでなければmigrateの進捗ログをslogのDebugレベルに流す。
func NewMigrator(databaseURL string, logger *slog.Logger) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	if logger != nil {
		m.Log = migrateLogger{logger: logger}
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションを適用し、適用前後のスキーマバージョンを返す。
// すでに最新の場合はエラーなしで返る。
// スキーマがdirtyの場合は何も適用せずErrDirtySchemaを返す。
func RunMigrations(databaseURL string, logger *slog.Logger) (MigrationResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m, err := NewMigrator(databaseURL, logger)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	return applyMigrations(m, logger)
}

// migrator はapplyMigrationsが使うmigrate.Migrateの操作。
type migrator interface {
	Version() (uint, bool, error)
	Up() error
}

func applyMigrations(m migrator, logger *slog.Logger) (MigrationResult, error) {
	var result MigrationResult

	before, err := readStatus(m)
	if err != nil {
		return result, err
	}
	result.Before = before
	logger.Info("current schema version",
		slog.Uint64("version", uint64(before.Version)),
		slog.Bool("dirty", before.Dirty),
	)

	// dirtyのまま進めると不整合が広がるため、手動での修復を求める
	if before.Dirty {
		logger.Error("schema is dirty; fix the failed migration and force the version before retrying",
			slog.Uint64("version", uint64(before.Version)),
		)
		return result, fmt.Errorf("%w: version %d", ErrDirtySchema, before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		// 失敗時もどこまで進んだかを残す
		if after, serr := readStatus(m); serr == nil {
			result.After = after
			logger.Error("migration stopped",
				slog.Uint64("version", uint64(after.Version)),
				slog.Bool("dirty", after.Dirty),
			)
		}
		return result, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := readStatus(m)
	if err != nil {
		return result, err
	}
	result.After = after

	if result.Applied() {
		logger.Info("migrations applied",
			slog.Uint64("from_version", uint64(before.Version)),
			slog.Uint64("to_version", uint64(after.Version)),
		)
	} else {
		logger.Info("schema already up to date", slog.Uint64("version", uint64(after.Version)))
	}
	return result, nil
}

// readStatus は現在のスキーマバージョンを読む。未適用の場合はゼロ値を返す。
func readStatus(m interface{ Version() (uint, bool, error) }) (SchemaStatus, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaStatus{}, nil
	}
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaStatus{Version: version, Dirty: dirty}, nil
}

// migrateLogger はmigrate.Loggerをslogに橋渡しする。
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}
