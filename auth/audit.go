package auth

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/contextframe/contextframe-go/config"
)

// AuditEvent records one tool invocation after it completes.
type AuditEvent struct {
	Caller     string         `json:"caller"`
	Tool       string         `json:"tool"`
	Code       int            `json:"code"` // 0 on success, JSON-RPC code otherwise
	DurationMs int64          `json:"duration_ms"`
	Detail     map[string]any `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// Auditor emits audit events. Emission must never fail a request; errors
// are logged and swallowed.
type Auditor interface {
	Emit(ctx context.Context, ev AuditEvent)
}

// NopAuditor drops every event.
type NopAuditor struct{}

func (NopAuditor) Emit(ctx context.Context, ev AuditEvent) {}

// StdoutAuditor writes one JSON line per event through the process logger.
type StdoutAuditor struct{}

func (StdoutAuditor) Emit(ctx context.Context, ev AuditEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("audit: encode failed: %v", err)
		return
	}
	log.Printf("audit %s", data)
}

// AuditRecord is the persisted form of an event in the Postgres sink.
type AuditRecord struct {
	ID         uint           `gorm:"primaryKey"`
	Caller     string         `gorm:"index"`
	Tool       string         `gorm:"index"`
	Code       int
	DurationMs int64
	Detail     datatypes.JSON
	CreatedAt  time.Time
}

// TableName keeps the sink in its own table.
func (AuditRecord) TableName() string { return "contextframe_audit" }

// PostgresAuditor persists events through GORM.
type PostgresAuditor struct {
	db *gorm.DB
}

// NewPostgresAuditor connects and migrates the audit table.
func NewPostgresAuditor(dsn string) (*PostgresAuditor, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&AuditRecord{}); err != nil {
		return nil, err
	}
	return &PostgresAuditor{db: db}, nil
}

func (a *PostgresAuditor) Emit(ctx context.Context, ev AuditEvent) {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		detail = []byte("{}")
	}
	rec := AuditRecord{
		Caller:     ev.Caller,
		Tool:       ev.Tool,
		Code:       ev.Code,
		DurationMs: ev.DurationMs,
		Detail:     datatypes.JSON(detail),
		CreatedAt:  ev.At,
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		log.Printf("audit: postgres insert failed: %v", err)
	}
}

// NewAuditor picks the backend from configuration.
func NewAuditor(cfg *config.AuditConfig) (Auditor, error) {
	if cfg == nil {
		return StdoutAuditor{}, nil
	}
	switch cfg.Backend {
	case "postgres":
		return NewPostgresAuditor(cfg.PostgresDSN)
	default:
		return StdoutAuditor{}, nil
	}
}
