// Package store persists an audit trail of completed queries, one row per
// round trip. It backs query.Recorder with a GORM-managed SQLite database.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/trevorprater/structquery/query"
)

// QueryRecord is the persisted form of one completed query.
type QueryRecord struct {
	ID           uint      `gorm:"primaryKey"`
	RequestID    string    `gorm:"size:64;uniqueIndex;not null"`
	Prompt       string    `gorm:"type:text"`
	Model        string    `gorm:"size:128;index"`
	Transport    string    `gorm:"size:64"`
	Outcome      string    `gorm:"size:32;index"`
	Violations   int       `gorm:"not null;default:0"`
	InputTokens  int       `gorm:"not null;default:0"`
	OutputTokens int       `gorm:"not null;default:0"`
	CostUSD      float64   `gorm:"not null;default:0"`
	DurationMS   int64     `gorm:"not null;default:0"`
	Cached       bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"index"`
}

// UsageSummary aggregates token and cost totals over a time window.
type UsageSummary struct {
	Queries      int64
	Conforming   int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Store is a query.Recorder backed by SQLite.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the audit database at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.AutoMigrate(&QueryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}
	return &Store{db: db}, nil
}

// Record implements query.Recorder.
func (s *Store) Record(ctx context.Context, rec *query.AuditRecord) error {
	row := QueryRecord{
		RequestID:    rec.RequestID,
		Prompt:       rec.Prompt,
		Model:        rec.Model,
		Transport:    rec.Transport,
		Outcome:      rec.Outcome,
		Violations:   rec.Violations,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		CostUSD:      rec.CostUSD,
		DurationMS:   rec.Duration.Milliseconds(),
		Cached:       rec.Cached,
		CreatedAt:    rec.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Get returns the record for a request id.
func (s *Store) Get(ctx context.Context, requestID string) (*QueryRecord, error) {
	var row QueryRecord
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Recent returns the most recent records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []QueryRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Summarize aggregates usage since the given time.
func (s *Store) Summarize(ctx context.Context, since time.Time) (*UsageSummary, error) {
	var out UsageSummary

	base := s.db.WithContext(ctx).Model(&QueryRecord{}).Where("created_at >= ?", since)
	if err := base.Count(&out.Queries).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&QueryRecord{}).
		Where("created_at >= ? AND outcome = ?", since, query.OutcomeConforming).
		Count(&out.Conforming).Error; err != nil {
		return nil, err
	}

	type totals struct {
		InputTokens  int64
		OutputTokens int64
		CostUSD      float64
	}
	var t totals
	err := s.db.WithContext(ctx).Model(&QueryRecord{}).
		Where("created_at >= ?", since).
		Select("COALESCE(SUM(input_tokens),0) AS input_tokens, COALESCE(SUM(output_tokens),0) AS output_tokens, COALESCE(SUM(cost_usd),0) AS cost_usd").
		Scan(&t).Error
	if err != nil {
		return nil, err
	}
	out.InputTokens = t.InputTokens
	out.OutputTokens = t.OutputTokens
	out.CostUSD = t.CostUSD
	return &out, nil
}
