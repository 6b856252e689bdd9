package aggregation

import (
	"context"

	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/internal/model"
)

// Store is the history of committed packages a check runs against.
// repository.AggregateRepository satisfies it.
type Store interface {
	// FindPackageBySSCC returns repository.ErrNotFound when no package has sscc
	FindPackageBySSCC(ctx context.Context, sscc string) (*model.AggregatePackage, error)
	// FindCodesByFullCode returns the committed codes among fullCodes
	FindCodesByFullCode(ctx context.Context, fullCodes []string) ([]model.AggregatedCode, error)
	// Commit writes pkg and its codes and runs inTx in one transaction
	Commit(ctx context.Context, pkg *model.AggregatePackage, inTx func(tx *gorm.DB) error) error
}
