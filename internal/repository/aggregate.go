package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/internal/db"
	"example.com/backstage/services/aggregation/internal/model"
)

// AggregateRepository stores committed packages and their product codes
type AggregateRepository interface {
	FindPackageBySSCC(ctx context.Context, sscc string) (*model.AggregatePackage, error)
	FindCodesByFullCode(ctx context.Context, fullCodes []string) ([]model.AggregatedCode, error)
	Commit(ctx context.Context, pkg *model.AggregatePackage, inTx func(tx *gorm.DB) error) error
	ListByTask(ctx context.Context, taskID string) ([]model.AggregatePackage, error)
	DeleteByTaskTx(tx *gorm.DB, taskID string) error
}

// aggregateRepository implements AggregateRepository
type aggregateRepository struct {
	db *gorm.DB
}

// NewAggregateRepository creates a new aggregate repository
func NewAggregateRepository(db *gorm.DB) AggregateRepository {
	return &aggregateRepository{db: db}
}

// FindPackageBySSCC finds a committed package by its normalised SSCC
func (r *aggregateRepository) FindPackageBySSCC(ctx context.Context, sscc string) (*model.AggregatePackage, error) {
	var pkg model.AggregatePackage
	err := r.db.WithContext(ctx).Where("sscc = ?", sscc).First(&pkg).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// FindCodesByFullCode returns the committed codes among fullCodes
func (r *aggregateRepository) FindCodesByFullCode(ctx context.Context, fullCodes []string) ([]model.AggregatedCode, error) {
	var codes []model.AggregatedCode
	if len(fullCodes) == 0 {
		return codes, nil
	}
	err := r.db.WithContext(ctx).Where("full_code IN ?", fullCodes).Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// Commit writes the package and its codes in one transaction. inTx, when
// set, runs inside the same transaction after the package is written and
// its error rolls everything back.
func (r *aggregateRepository) Commit(ctx context.Context, pkg *model.AggregatePackage, inTx func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createError(tx.Omit("Codes").Create(pkg).Error); err != nil {
			return err
		}
		if len(pkg.Codes) > 0 {
			for i := range pkg.Codes {
				pkg.Codes[i].PackageID = pkg.UUID
			}
			if err := createError(tx.Create(&pkg.Codes).Error); err != nil {
				return err
			}
		}

		if inTx != nil {
			if err := inTx(tx); err != nil {
				return err
			}
		}

		log.Debug().
			Str("task_id", pkg.TaskID).
			Str("sscc", pkg.SSCC).
			Int("codes", len(pkg.Codes)).
			Msg("Package committed")
		return nil
	})
}

// ListByTask returns the task's packages in commit order with their codes
func (r *aggregateRepository) ListByTask(ctx context.Context, taskID string) ([]model.AggregatePackage, error) {
	var packages []model.AggregatePackage
	err := r.db.WithContext(ctx).
		Preload("Codes", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Where("task_id = ?", taskID).
		Order("timestamp ASC").
		Order("created_at ASC").
		Find(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

// DeleteByTaskTx removes every package committed for the task inside tx
func (r *aggregateRepository) DeleteByTaskTx(tx *gorm.DB, taskID string) error {
	packageIDs := tx.Model(&model.AggregatePackage{}).Select("uuid").Where("task_id = ?", taskID)
	if err := tx.Where("package_id IN (?)", packageIDs).Delete(&model.AggregatedCode{}).Error; err != nil {
		return errors.Wrap(ErrDeleteFailed, err.Error())
	}
	if err := tx.Where("task_id = ?", taskID).Delete(&model.AggregatePackage{}).Error; err != nil {
		return errors.Wrap(ErrDeleteFailed, err.Error())
	}
	return nil
}

func createError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return errors.Wrap(ErrDuplicateKey, err.Error())
	}
	return errors.Wrap(ErrCreateFailed, err.Error())
}
