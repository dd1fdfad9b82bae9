// Package calllog persists one row per gateway call so operators can inspect recent
// traffic per provider.
package calllog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	providergateway "github.com/opengovern/provider-gateway"
)

type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgresql"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

type Config struct {
	Type     DatabaseType `yaml:"type" json:"type"`
	DSN      string       `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	FilePath string       `yaml:"file_path,omitempty" json:"file_path,omitempty"`

	MaxOpenConns    int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
}

// Call is the stored form of a providergateway.CallRecord.
type Call struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RequestID  string    `gorm:"size:64;uniqueIndex" json:"requestId"`
	Provider   string    `gorm:"size:64;index:idx_calls_provider_created" json:"provider"`
	Method     string    `gorm:"size:16" json:"method"`
	Path       string    `gorm:"size:1024" json:"path"`
	StatusCode int       `json:"statusCode"`
	Outcome    string    `gorm:"size:32" json:"outcome"`
	Error      string    `gorm:"size:2048" json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `gorm:"index:idx_calls_provider_created" json:"createdAt"`
}

func (Call) TableName() string { return "gateway_calls" }

// Store is a gorm backed call log. It implements providergateway.CallRecorder.
type Store struct {
	db *gorm.DB
}

var _ providergateway.CallRecorder = (*Store)(nil)

// Open connects to the configured database and migrates the calls table.
func Open(cfg Config) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Type, err)
	}

	return New(db)
}

// New wraps an open connection and migrates the calls table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Call{}); err != nil {
		return nil, fmt.Errorf("failed to migrate call log: %w", err)
	}
	return &Store{db: db}, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case SQLite:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path is required for SQLite")
		}
		return sqlite.Open(cfg.FilePath), nil
	case PostgreSQL:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn is required for PostgreSQL")
		}
		return postgres.Open(cfg.DSN), nil
	case MySQL:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn is required for MySQL")
		}
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func (s *Store) RecordCall(ctx context.Context, rec providergateway.CallRecord) error {
	call := Call{
		RequestID:  rec.RequestID,
		Provider:   rec.Provider,
		Method:     rec.Method,
		Path:       rec.Path,
		StatusCode: rec.StatusCode,
		Outcome:    rec.Outcome,
		Error:      rec.Error,
		Attempts:   rec.Attempts,
		DurationMs: rec.Duration.Milliseconds(),
		CreatedAt:  rec.StartedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&call).Error; err != nil {
		return fmt.Errorf("failed to record call %s: %w", rec.RequestID, err)
	}
	return nil
}

// Recent returns the latest calls, newest first. An empty provider matches every provider.
func (s *Store) Recent(ctx context.Context, provider string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}

	var calls []Call
	if err := q.Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	return calls, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
