package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/montycloud/moya/internal/conversation"
)

// DatabaseConfig configures the SQL-backed repository.
type DatabaseConfig struct {
	Type       string // "sqlite" or "postgres"
	Connection string // file path or DSN
	MaxConns   int
	LogLevel   string
}

// threadRecord is the threads table.
type threadRecord struct {
	ID        string    `gorm:"primaryKey;size:255"`
	CreatedAt time.Time `gorm:"not null"`
}

func (threadRecord) TableName() string { return "threads" }

// messageRecord is the messages table. A monotonically increasing Seq keeps
// append order stable even when timestamps collide.
type messageRecord struct {
	Seq       uint64         `gorm:"primaryKey;autoIncrement"`
	ID        string         `gorm:"uniqueIndex;size:36;not null"`
	ThreadID  string         `gorm:"index;size:255;not null"`
	Sender    string         `gorm:"size:255;not null"`
	Content   string         `gorm:"type:text"`
	Metadata  datatypes.JSON `gorm:"type:json"`
	Timestamp time.Time      `gorm:"index;not null"`
}

func (messageRecord) TableName() string { return "messages" }

// DatabaseRepository persists threads in a relational database through GORM.
type DatabaseRepository struct {
	db *gorm.DB
}

// NewDatabaseRepository opens the database and migrates the schema.
func NewDatabaseRepository(cfg DatabaseConfig) (*DatabaseRepository, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.Connection)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Connection)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	logLevel := gormlogger.Silent
	switch cfg.LogLevel {
	case "info":
		logLevel = gormlogger.Info
	case "warn":
		logLevel = gormlogger.Warn
	case "error":
		logLevel = gormlogger.Error
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(cfg.MaxConns / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&threadRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate memory schema: %w", err)
	}

	log.Info().Str("type", cfg.Type).Msg("Database memory repository ready")

	return &DatabaseRepository{db: db}, nil
}

// CreateThread inserts an empty thread row.
func (r *DatabaseRepository) CreateThread(ctx context.Context, threadID string) error {
	exists, err := r.ThreadExists(ctx, threadID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrThreadExists, threadID)
	}

	rec := threadRecord{ID: threadID, CreatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// GetThread rebuilds the thread from its message rows.
func (r *DatabaseRepository) GetThread(ctx context.Context, threadID string) (*conversation.Thread, error) {
	exists, err := r.ThreadExists(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}

	msgs, err := r.loadMessages(ctx, threadID, 0)
	if err != nil {
		return nil, err
	}

	thread := conversation.NewThread(threadID)
	for _, msg := range msgs {
		if err := thread.AddMessage(msg); err != nil {
			return nil, err
		}
	}
	return thread, nil
}

// ThreadExists checks the threads table.
func (r *DatabaseRepository) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	var rec threadRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking thread %s: %w", threadID, err)
	}
	return true, nil
}

// AppendMessage inserts a message row, creating the thread row on first
// write.
func (r *DatabaseRepository) AppendMessage(ctx context.Context, msg conversation.Message) error {
	var metadata datatypes.JSON
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = datatypes.JSON(raw)
	}

	rec := messageRecord{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Metadata:  metadata,
		Timestamp: msg.Timestamp,
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		thread := threadRecord{ID: msg.ThreadID, CreatedAt: time.Now().UTC()}
		if err := tx.Where("id = ?", msg.ThreadID).FirstOrCreate(&thread).Error; err != nil {
			return fmt.Errorf("ensuring thread %s: %w", msg.ThreadID, err)
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("appending to thread %s: %w", msg.ThreadID, err)
		}
		return nil
	})
}

// GetLastNMessages returns the last n messages in append order.
func (r *DatabaseRepository) GetLastNMessages(ctx context.Context, threadID string, n int) ([]conversation.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.loadMessages(ctx, threadID, n)
}

// GetThreadSummary returns the naive thread summary.
func (r *DatabaseRepository) GetThreadSummary(ctx context.Context, threadID string) (string, error) {
	msgs, err := r.loadMessages(ctx, threadID, 0)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return Summarize(threadID, msgs), nil
}

// DeleteThread removes the thread row and all its messages.
func (r *DatabaseRepository) DeleteThread(ctx context.Context, threadID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&threadRecord{}, "id = ?", threadID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return tx.Delete(&messageRecord{}, "thread_id = ?", threadID).Error
	})
}

// ListThreadIDs returns all thread IDs.
func (r *DatabaseRepository) ListThreadIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&threadRecord{}).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return ids, nil
}

// loadMessages loads messages for a thread in append order. n == 0 loads all
// of them.
func (r *DatabaseRepository) loadMessages(ctx context.Context, threadID string, n int) ([]conversation.Message, error) {
	q := r.db.WithContext(ctx).Where("thread_id = ?", threadID)
	if n > 0 {
		// Fetch the newest n rows, then flip them back into append order.
		q = q.Order("seq DESC").Limit(n)
	} else {
		q = q.Order("seq ASC")
	}

	var records []messageRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("reading thread %s: %w", threadID, err)
	}
	if n > 0 {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}

	msgs := make([]conversation.Message, 0, len(records))
	for _, rec := range records {
		msg := conversation.Message{
			ID:        rec.ID,
			ThreadID:  rec.ThreadID,
			Sender:    rec.Sender,
			Content:   rec.Content,
			Timestamp: rec.Timestamp,
		}
		if len(rec.Metadata) > 0 {
			if err := json.Unmarshal(rec.Metadata, &msg.Metadata); err != nil {
				log.Warn().Err(err).Str("message_id", rec.ID).Msg("Skipping undecodable metadata")
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
