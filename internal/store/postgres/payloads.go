package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/example/email-messenger/internal/models"
	"github.com/example/email-messenger/internal/util"
)

// ErrPayloadNotFound is returned by SaveExisting when the row is gone.
var ErrPayloadNotFound = errors.New("message payload not found")

type messageOutboxModel struct {
	ID             int        `gorm:"column:id;primaryKey;autoIncrement"`
	DeliveryStatus string     `gorm:"column:delivery_status;not null;default:pending"`
	IsTracked      bool       `gorm:"column:is_tracked;not null;default:false"`
	FromAddress    string     `gorm:"column:from_address"`
	ToAddresses    string     `gorm:"column:to_addresses"`
	CCAddresses    string     `gorm:"column:cc_addresses"`
	BCCAddresses   string     `gorm:"column:bcc_addresses"`
	Subject        string     `gorm:"column:subject"`
	BodyType       string     `gorm:"column:body_type"`
	Body           string     `gorm:"column:body"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	ModifiedAt     *time.Time `gorm:"column:modified_at"`
}

func (messageOutboxModel) TableName() string {
	return "message_outbox"
}

func (m messageOutboxModel) toPayload() *models.MessagePayload {
	return &models.MessagePayload{
		ID:             m.ID,
		DeliveryStatus: models.DeliveryStatus(m.DeliveryStatus),
		IsTracked:      m.IsTracked,
		From:           m.FromAddress,
		To:             util.SplitAddressList(m.ToAddresses),
		CC:             util.SplitAddressList(m.CCAddresses),
		BCC:            util.SplitAddressList(m.BCCAddresses),
		Subject:        m.Subject,
		BodyType:       m.BodyType,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
		SentAt:         m.SentAt,
		ModifiedAt:     m.ModifiedAt,
	}
}

func messageOutboxModelFromPayload(p *models.MessagePayload) messageOutboxModel {
	status := string(p.DeliveryStatus)
	if status == "" {
		status = string(models.DeliveryStatusPending)
	}
	return messageOutboxModel{
		ID:             p.ID,
		DeliveryStatus: status,
		IsTracked:      p.IsTracked,
		FromAddress:    p.From,
		ToAddresses:    strings.Join(p.To, ","),
		CCAddresses:    strings.Join(p.CC, ","),
		BCCAddresses:   strings.Join(p.BCC, ","),
		Subject:        p.Subject,
		BodyType:       p.BodyType,
		Body:           p.Body,
		CreatedAt:      p.CreatedAt,
		SentAt:         p.SentAt,
		ModifiedAt:     p.ModifiedAt,
	}
}

// PayloadRepository reads and updates rows of the message outbox.
type PayloadRepository struct {
	db *gorm.DB
}

// NewPayloadRepository wraps db.
func NewPayloadRepository(db *gorm.DB) *PayloadRepository {
	return &PayloadRepository{db: db}
}

// FindFirst loads the payload with id. A missing row yields found=false.
func (r *PayloadRepository) FindFirst(ctx context.Context, id int) (*models.MessagePayload, bool, error) {
	var row messageOutboxModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, wrap(fmt.Sprintf("find message %d", id), err)
	}
	return row.toPayload(), true, nil
}

// SaveExisting writes the delivery fields of p back to its row. Content
// columns are owned by whoever enqueued the message and are left alone.
func (r *PayloadRepository) SaveExisting(ctx context.Context, p *models.MessagePayload) error {
	if p == nil {
		return errors.New("store: payload is nil")
	}
	result := r.db.WithContext(ctx).
		Model(&messageOutboxModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"delivery_status": string(p.DeliveryStatus),
			"sent_at":         p.SentAt,
			"modified_at":     p.ModifiedAt,
		})
	if result.Error != nil {
		return wrap(fmt.Sprintf("save message %d", p.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: save message %d: %w", p.ID, ErrPayloadNotFound)
	}
	return nil
}

// Create inserts p and assigns its id. Used by tooling and tests to seed the
// outbox.
func (r *PayloadRepository) Create(ctx context.Context, p *models.MessagePayload) error {
	row := messageOutboxModelFromPayload(p)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrap("create message", err)
	}
	p.ID = row.ID
	p.CreatedAt = row.CreatedAt
	return nil
}
