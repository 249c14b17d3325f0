package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/smpp-transport/internal/model"
	"github.com/nimasrn/smpp-transport/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrDeliveryRecordNotFound = errors.New("delivery record not found")
)

var terminalDeliveryStatuses = []string{
	string(model.DeliveryStatusDelivered),
	string(model.DeliveryStatusFailed),
	string(model.DeliveryStatusExpired),
}

type DeliveryRecordRepository struct {
	*pg.DB
}

func NewDeliveryRecordRepository(db *pg.DB) *DeliveryRecordRepository {
	return &DeliveryRecordRepository{
		db,
	}
}

func (r *DeliveryRecordRepository) Create(ctx context.Context, dr *model.DeliveryRecord) (*model.DeliveryRecord, error) {
	entity := toDeliveryRecordEntity(dr)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDeliveryRecordModel(entity), nil
}

// GetByGatewayID returns the newest record for a gateway message id.
func (r *DeliveryRecordRepository) GetByGatewayID(ctx context.Context, gatewayMessageID string) (*model.DeliveryRecord, error) {
	var entity DeliveryRecordEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("gateway_message_id = ?", gatewayMessageID).
		Order("id DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryRecordNotFound
		}
		return nil, err
	}
	return toDeliveryRecordModel(&entity), nil
}

func (r *DeliveryRecordRepository) ListByRequest(ctx context.Context, requestID string) ([]*model.DeliveryRecord, error) {
	var entities []*DeliveryRecordEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("segment_index ASC, id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryRecordModels(entities), nil
}

// ApplyReceipt updates a record that is not terminal yet. It reports false when the record was
// already terminal, so a duplicate receipt changes nothing.
func (r *DeliveryRecordRepository) ApplyReceipt(ctx context.Context, id int64, u model.ReceiptUpdate) (bool, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeliveryRecordEntity{}).
		Where("id = ? AND status NOT IN ?", id, terminalDeliveryStatuses).
		Updates(map[string]any{
			"status":              string(u.Status),
			"gateway_submit_time": u.GatewaySubmitTime,
			"gateway_done_time":   u.GatewayDoneTime,
			"error_code":          u.ErrorCode,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireOpen marks every non-terminal record of a request expired and returns the affected gateway ids.
func (r *DeliveryRecordRepository) ExpireOpen(ctx context.Context, requestID string) ([]string, error) {
	var ids []string
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		open := r.Write(ctx).
			Model(&DeliveryRecordEntity{}).
			Where("request_id = ? AND status NOT IN ?", requestID, terminalDeliveryStatuses)
		if err := open.Session(&gorm.Session{}).Pluck("gateway_message_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return open.Updates(map[string]any{
			"status":     string(model.DeliveryStatusExpired),
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
