package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vinayprograms/activitykit/activity"
)

type eventModel struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID    *string   `gorm:"column:batch_id"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index:idx_activity_events_task,priority:2;index:idx_activity_events_session,priority:2"`
	EventType  string    `gorm:"column:event_type;not null;index:idx_activity_events_type"`
	TaskID     *string   `gorm:"column:task_id;index:idx_activity_events_task,priority:1"`
	SessionID  *string   `gorm:"column:session_id;index:idx_activity_events_session,priority:1"`
	Page       string    `gorm:"column:page;not null;default:''"`
	UserAgent  string    `gorm:"column:user_agent;not null;default:''"`
	Payload    string    `gorm:"column:payload;type:jsonb;not null"`
	Trimmed    bool      `gorm:"column:trimmed;not null;default:false"`
	ReceivedAt time.Time `gorm:"column:received_at;not null"`
}

func (eventModel) TableName() string { return "activity_events" }

type batchModel struct {
	BatchID    string    `gorm:"column:batch_id;primaryKey"`
	Events     int       `gorm:"column:events;not null"`
	ReceivedAt time.Time `gorm:"column:received_at;not null"`
}

func (batchModel) TableName() string { return "activity_batches" }

// PostgresStore stores events in Postgres through gorm.
type PostgresStore struct {
	db *gorm.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := NewPostgresStoreFromDB(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB uses an existing handle and migrates the schema.
func NewPostgresStoreFromDB(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&batchModel{}, &eventModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// SaveBatch implements Store.
func (s *PostgresStore) SaveBatch(ctx context.Context, batchID string, events []activity.Event, receivedAt time.Time) (bool, error) {
	rows := make([]eventModel, 0, len(events))
	for _, e := range events {
		payload, err := encodePayload(e.Payload)
		if err != nil {
			return false, err
		}
		rows = append(rows, eventModel{
			BatchID:    optional(batchID),
			OccurredAt: e.Timestamp.UTC(),
			EventType:  string(e.Type),
			TaskID:     optional(e.TaskID),
			SessionID:  optional(e.SessionID),
			Page:       e.Page,
			UserAgent:  e.UserAgent,
			Payload:    payload,
			Trimmed:    e.Trimmed(),
			ReceivedAt: receivedAt.UTC(),
		})
	}

	stored := true
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if batchID != "" {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batchModel{
				BatchID:    batchID,
				Events:     len(events),
				ReceivedAt: receivedAt.UTC(),
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				stored = false
				return nil
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return false, fmt.Errorf("save batch: %w", err)
	}
	return stored, nil
}

// Events implements Store.
func (s *PostgresStore) Events(ctx context.Context, q Query) ([]Record, error) {
	tx := s.db.WithContext(ctx).Model(&eventModel{})
	if q.SessionID != "" {
		tx = tx.Where("session_id = ?", q.SessionID)
	}
	if q.TaskID != "" {
		tx = tx.Where("task_id = ?", q.TaskID)
	}
	if q.Type != "" {
		tx = tx.Where("event_type = ?", string(q.Type))
	}

	var rows []eventModel
	if err := tx.Order("occurred_at ASC, id ASC").Limit(q.limit()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m eventModel) toRecord() (Record, error) {
	var p activity.Payload
	if err := json.Unmarshal([]byte(m.Payload), &p); err != nil {
		return Record{}, fmt.Errorf("decode payload: %w", err)
	}
	return Record{
		BatchID: deref(m.BatchID),
		Event: activity.Event{
			Timestamp: m.OccurredAt.UTC(),
			Type:      activity.Type(m.EventType),
			TaskID:    deref(m.TaskID),
			SessionID: deref(m.SessionID),
			Payload:   p,
			Page:      m.Page,
			UserAgent: m.UserAgent,
		},
		ReceivedAt: m.ReceivedAt.UTC(),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
