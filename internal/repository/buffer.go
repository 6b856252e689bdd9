package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/aggregation/internal/model"
)

// BufferRepository persists the contents of session scan buffers
type BufferRepository interface {
	Upsert(ctx context.Context, codes []model.ScannedCode) error
	Delete(ctx context.Context, sessionID string, rawValues []string) error
	Clear(ctx context.Context, sessionID string) error
	ClearTx(tx *gorm.DB, sessionID string) error
	List(ctx context.Context, sessionID string) ([]model.ScannedCode, error)
}

type bufferRepository struct {
	db *gorm.DB
}

// NewBufferRepository creates a new buffer repository
func NewBufferRepository(db *gorm.DB) BufferRepository {
	return &bufferRepository{db: db}
}

// Upsert inserts new codes and refreshes the ones already stored for
// the same session and raw value
func (r *bufferRepository) Upsert(ctx context.Context, codes []model.ScannedCode) error {
	if len(codes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "raw_value"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbology", "content_type", "gs1_data", "last_seen_at", "updated_at",
		}),
	}).Create(&codes).Error
}

func (r *bufferRepository) Delete(ctx context.Context, sessionID string, rawValues []string) error {
	if len(rawValues) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("session_id = ? AND raw_value IN ?", sessionID, rawValues).
		Delete(&model.ScannedCode{}).Error
}

func (r *bufferRepository) Clear(ctx context.Context, sessionID string) error {
	return r.ClearTx(r.db.WithContext(ctx), sessionID)
}

// ClearTx clears the session's buffer using the given handle, which may be
// an open transaction
func (r *bufferRepository) ClearTx(tx *gorm.DB, sessionID string) error {
	return tx.Where("session_id = ?", sessionID).Delete(&model.ScannedCode{}).Error
}

// List returns the stored codes in first-seen order
func (r *bufferRepository) List(ctx context.Context, sessionID string) ([]model.ScannedCode, error) {
	var codes []model.ScannedCode
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("first_seen_at ASC").
		Order("created_at ASC").
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}
