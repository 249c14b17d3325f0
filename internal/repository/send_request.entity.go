package repository

import (
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/pkg/pg"
)

type SendRequestEntity struct {
	ID           string     `db:"id"            gorm:"primaryKey;type:uuid;column:id"`
	Phone        string     `db:"phone"         gorm:"column:phone;not null;index"`
	Text         string     `db:"text"          gorm:"column:text;not null"`
	Priority     string     `db:"priority"      gorm:"column:priority;not null;default:'normal'"`
	Status       string     `db:"status"        gorm:"column:status;not null;index"`
	LastError    string     `db:"last_error"    gorm:"column:last_error;not null;default:''"`
	AttemptCount int        `db:"attempt_count" gorm:"column:attempt_count;not null;default:0"`
	PartCount    int        `db:"part_count"    gorm:"column:part_count;not null;default:0"`
	Encoding     string     `db:"encoding"      gorm:"column:encoding;not null;default:''"`
	FinalizedAt  *time.Time `db:"finalized_at"  gorm:"column:finalized_at"`
	pg.Timestamps
}

func (SendRequestEntity) TableName() string {
	return "sms_requests"
}

func toSendRequestEntity(m *model.SendRequest) *SendRequestEntity {
	if m == nil {
		return nil
	}
	return &SendRequestEntity{
		ID:           m.ID,
		Phone:        m.Phone,
		Text:         m.Text,
		Priority:     m.Priority,
		Status:       string(m.Status),
		LastError:    m.LastError,
		AttemptCount: m.AttemptCount,
		PartCount:    m.PartCount,
		Encoding:     m.Encoding,
		FinalizedAt:  m.FinalizedAt,
		Timestamps: pg.Timestamps{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}
}

func toSendRequestModel(e *SendRequestEntity) *model.SendRequest {
	if e == nil {
		return nil
	}
	return &model.SendRequest{
		ID:           e.ID,
		Phone:        e.Phone,
		Text:         e.Text,
		Priority:     e.Priority,
		Status:       model.RequestStatus(e.Status),
		LastError:    e.LastError,
		AttemptCount: e.AttemptCount,
		PartCount:    e.PartCount,
		Encoding:     e.Encoding,
		FinalizedAt:  e.FinalizedAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toSendRequestModels(entities []*SendRequestEntity) []*model.SendRequest {
	if entities == nil {
		return nil
	}
	models := make([]*model.SendRequest, len(entities))
	for i, e := range entities {
		models[i] = toSendRequestModel(e)
	}
	return models
}
