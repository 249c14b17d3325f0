package repository

import (
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/pkg/pg"
)

type DeliveryRecordEntity struct {
	ID                int64      `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	GatewayMessageID  string     `db:"gateway_message_id"  gorm:"column:gateway_message_id;not null;index"`
	RequestID         string     `db:"request_id"          gorm:"column:request_id;type:uuid;not null;index"`
	SegmentIndex      int        `db:"segment_index"       gorm:"column:segment_index;not null"`
	Status            string     `db:"status"              gorm:"column:status;not null;index"`
	SubmittedAt       time.Time  `db:"submitted_at"        gorm:"column:submitted_at;not null"`
	GatewaySubmitTime *time.Time `db:"gateway_submit_time" gorm:"column:gateway_submit_time"`
	GatewayDoneTime   *time.Time `db:"gateway_done_time"   gorm:"column:gateway_done_time"`
	ErrorCode         string     `db:"error_code"          gorm:"column:error_code;not null;default:''"`
	pg.Timestamps
}

func (DeliveryRecordEntity) TableName() string {
	return "delivery_records"
}

func toDeliveryRecordEntity(m *model.DeliveryRecord) *DeliveryRecordEntity {
	if m == nil {
		return nil
	}
	return &DeliveryRecordEntity{
		ID:                m.ID,
		GatewayMessageID:  m.GatewayMessageID,
		RequestID:         m.RequestID,
		SegmentIndex:      m.SegmentIndex,
		Status:            string(m.Status),
		SubmittedAt:       m.SubmittedAt,
		GatewaySubmitTime: m.GatewaySubmitTime,
		GatewayDoneTime:   m.GatewayDoneTime,
		ErrorCode:         m.ErrorCode,
	}
}

func toDeliveryRecordModel(e *DeliveryRecordEntity) *model.DeliveryRecord {
	if e == nil {
		return nil
	}
	return &model.DeliveryRecord{
		ID:                e.ID,
		GatewayMessageID:  e.GatewayMessageID,
		RequestID:         e.RequestID,
		SegmentIndex:      e.SegmentIndex,
		Status:            model.DeliveryStatus(e.Status),
		SubmittedAt:       e.SubmittedAt,
		GatewaySubmitTime: e.GatewaySubmitTime,
		GatewayDoneTime:   e.GatewayDoneTime,
		ErrorCode:         e.ErrorCode,
	}
}

func toDeliveryRecordModels(entities []*DeliveryRecordEntity) []*model.DeliveryRecord {
	if entities == nil {
		return nil
	}
	models := make([]*model.DeliveryRecord, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryRecordModel(e)
	}
	return models
}
