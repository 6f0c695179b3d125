package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/email-messenger/internal/models"
)

type queueLogModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	WorkItemID string    `gorm:"column:work_item_id;index;not null"`
	Level      string    `gorm:"column:level;not null"`
	Message    string    `gorm:"column:message"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (queueLogModel) TableName() string {
	return "queue_log"
}

// AuditLog appends entries to the per-work-item queue log.
type AuditLog struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditLog wraps db. now defaults to time.Now.
func NewAuditLog(db *gorm.DB, now func() time.Time) *AuditLog {
	if now == nil {
		now = time.Now
	}
	return &AuditLog{db: db, now: now}
}

// AddInfo appends an informational entry.
func (a *AuditLog) AddInfo(ctx context.Context, item *models.WorkItem, format string, args ...any) error {
	return a.add(ctx, item, models.AuditLevelInfo, fmt.Sprintf(format, args...))
}

// AddError appends an error entry.
func (a *AuditLog) AddError(ctx context.Context, item *models.WorkItem, format string, args ...any) error {
	return a.add(ctx, item, models.AuditLevelError, fmt.Sprintf(format, args...))
}

func (a *AuditLog) add(ctx context.Context, item *models.WorkItem, level models.AuditLevel, msg string) error {
	if item == nil {
		return errors.New("store: audit entry needs a work item")
	}
	row := queueLogModel{
		ID:         uuid.Must(uuid.NewV7()).String(),
		WorkItemID: item.ID,
		Level:      string(level),
		Message:    msg,
		CreatedAt:  a.now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrap("append queue log", err)
	}
	return nil
}

// Entries returns the audit trail of workItemID, oldest first.
func (a *AuditLog) Entries(ctx context.Context, workItemID string) ([]models.AuditEntry, error) {
	var rows []queueLogModel
	if err := a.db.WithContext(ctx).
		Where("work_item_id = ?", workItemID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, wrap("list queue log", err)
	}
	out := make([]models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.AuditEntry{
			ID:         row.ID,
			WorkItemID: row.WorkItemID,
			Level:      models.AuditLevel(row.Level),
			Message:    row.Message,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}
