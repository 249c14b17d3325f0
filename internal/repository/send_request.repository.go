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
	// ErrNotFound is returned when a send request does not exist.
	ErrNotFound = errors.New("send request not found")
)

var terminalStatuses = []string{string(model.RequestStatusDelivered), string(model.RequestStatusFailed)}

type SendRequestRepository struct {
	*pg.DB
}

func NewSendRequestRepository(db *pg.DB) *SendRequestRepository {
	return &SendRequestRepository{
		db,
	}
}

func (r *SendRequestRepository) Create(ctx context.Context, req *model.SendRequest) (*model.SendRequest, error) {
	entity := toSendRequestEntity(req)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toSendRequestModel(entity), nil
}

// Delete removes a request that never made it onto the queue.
func (r *SendRequestRepository) Delete(ctx context.Context, id string) error {
	return r.Write(ctx).WithContext(ctx).Delete(&SendRequestEntity{}, "id = ?", id).Error
}

func (r *SendRequestRepository) Get(ctx context.Context, id string) (*model.SendRequest, error) {
	var entity SendRequestEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toSendRequestModel(&entity), nil
}

// UpdateProgress records worker progress. Terminal rows are left untouched.
func (r *SendRequestRepository) UpdateProgress(ctx context.Context, id string, p model.SendRequestProgress) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&SendRequestEntity{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]any{
			"status":        string(p.Status),
			"attempt_count": p.AttemptCount,
			"part_count":    p.PartCount,
			"encoding":      p.Encoding,
			"last_error":    p.LastError,
			"updated_at":    time.Now(),
		}).Error
}

// Finalize moves a request to a terminal status. It reports false when the request was already terminal.
func (r *SendRequestRepository) Finalize(ctx context.Context, id string, status model.RequestStatus, reason string) (bool, error) {
	now := time.Now()
	res := r.Write(ctx).WithContext(ctx).
		Model(&SendRequestEntity{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]any{
			"status":       string(status),
			"last_error":   reason,
			"finalized_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListExpired returns non-terminal requests created before cutoff, oldest first.
func (r *SendRequestRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*model.SendRequest, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entities []*SendRequestEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status NOT IN ? AND created_at < ?", terminalStatuses, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toSendRequestModels(entities), nil
}

// CountByStatus is used by the metrics reporter.
func (r *SendRequestRepository) CountByStatus(ctx context.Context) (map[model.RequestStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.Read(ctx).WithContext(ctx).
		Model(&SendRequestEntity{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[model.RequestStatus]int64, len(rows))
	for _, row := range rows {
		out[model.RequestStatus(row.Status)] = row.Count
	}
	return out, nil
}
