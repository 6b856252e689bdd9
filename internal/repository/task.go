package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/aggregation/internal/db"
	"example.com/backstage/services/aggregation/internal/model"
)

// TaskRepository keeps the tasks of open sessions
type TaskRepository interface {
	Save(ctx context.Context, record *model.TaskRecord) error
	FindByID(ctx context.Context, id string) (*model.TaskRecord, error)
	List(ctx context.Context) ([]model.TaskRecord, error)
	Delete(ctx context.Context, id string, inTx func(tx *gorm.DB) error) error
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

// Save creates the record or replaces the payload of an existing one
func (r *taskRepository) Save(ctx context.Context, record *model.TaskRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "started_at", "updated_at"}),
	}).Create(record).Error
}

func (r *taskRepository) FindByID(ctx context.Context, id string) (*model.TaskRecord, error) {
	var record model.TaskRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *taskRepository) List(ctx context.Context) ([]model.TaskRecord, error) {
	var records []model.TaskRecord
	if err := r.db.WithContext(ctx).Order("started_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes the task record. inTx, when set, runs first in the same
// transaction so everything stored for the task goes or stays together.
func (r *taskRepository) Delete(ctx context.Context, id string, inTx func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if inTx != nil {
			if err := inTx(tx); err != nil {
				return err
			}
		}
		if err := tx.Where("id = ?", id).Delete(&model.TaskRecord{}).Error; err != nil {
			return errors.Wrap(ErrDeleteFailed, err.Error())
		}
		return nil
	})
}
