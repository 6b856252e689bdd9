// Package aggregation decides whether a set of scanned codes closes a
// package for a task and commits it.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/internal/classifier"
	"example.com/backstage/services/aggregation/internal/gs1"
	"example.com/backstage/services/aggregation/internal/metrics"
	"example.com/backstage/services/aggregation/internal/model"
	"example.com/backstage/services/aggregation/internal/repository"
)

// Processor runs aggregation checks against a Store
type Processor struct {
	store   Store
	now     func() time.Time
	metrics *metrics.MetricsCollector
}

// Option configures a Processor
type Option func(*Processor)

// WithClock overrides the time source used for package timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a processor backed by store
func NewProcessor(store Store, opts ...Option) *Processor {
	p := &Processor{
		store:   store,
		now:     time.Now,
		metrics: metrics.GetMetricsCollector(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check validates codes against task and, when every rule passes, commits a
// new package. clearBuffer runs inside the commit transaction; a nil
// clearBuffer commits the package alone. Rules are applied in order and the
// first failure is returned. Check panics if task is nil.
func (p *Processor) Check(ctx context.Context, codes []classifier.ClassifiedCode, task *model.Task, clearBuffer func(tx *gorm.DB) error) CheckResult {
	if task == nil {
		panic("aggregation: Check called with nil task")
	}

	start := time.Now()
	result := p.check(ctx, codes, task, clearBuffer)
	p.metrics.RecordCheck(result.metricKind(), result.Success, time.Since(start))

	switch {
	case result.Success:
		log.Info().
			Str("task_id", task.ID).
			Str("sscc", result.Package.SSCC).
			Int("codes", len(result.Package.Codes)).
			Msg("Aggregation check succeeded")
	case result.IsStorageFailure():
		p.metrics.RecordError(metrics.ErrorTypeDatabase)
		log.Error().
			Str("task_id", task.ID).
			Str("reason", result.Reason).
			Msg("Aggregation check failed on storage")
	default:
		log.Warn().
			Str("task_id", task.ID).
			Str("kind", string(result.Kind)).
			Str("reason", result.Reason).
			Strs("invalid_codes", result.InvalidCodes).
			Msg("Aggregation check rejected")
	}

	return result
}

func (p *Processor) check(ctx context.Context, codes []classifier.ClassifiedCode, task *model.Task, clearBuffer func(tx *gorm.DB) error) CheckResult {
	now := p.now().UTC()

	products, packages := partition(codes)

	if len(packages) != 1 {
		return failure(KindSSCCCount,
			fmt.Sprintf("expected exactly one SSCC code, found %d", len(packages)), nil, now)
	}
	box := packages[0]

	var mismatched []string
	for _, code := range products {
		gtin, ok := code.Value(gs1.AIGTIN)
		if !ok || !sameGTIN(gtin, task.GTIN) {
			mismatched = append(mismatched, code.RawValue)
		}
	}
	if len(mismatched) > 0 {
		return failure(KindGTINMismatch, "mismatched GTIN", mismatched, now)
	}

	if len(products) != task.NumPacksInBox {
		return failure(KindPackCount,
			fmt.Sprintf("pack count mismatch: expected %d, found %d", task.NumPacksInBox, len(products)), nil, now)
	}

	sscc, ok := box.Value(gs1.AISSCC)
	if !ok {
		sscc = box.RawValue
	}
	_, err := p.store.FindPackageBySSCC(ctx, sscc)
	switch {
	case err == nil:
		return failure(KindDuplicateSSCC, "duplicate SSCC", []string{box.RawValue}, now)
	case !errors.Is(err, repository.ErrNotFound):
		return failure(KindStorage, "storage commit failed: "+err.Error(), nil, now)
	}

	fullCodes := make([]string, len(products))
	for i, code := range products {
		fullCodes[i] = code.RawValue
	}
	existing, err := p.store.FindCodesByFullCode(ctx, fullCodes)
	if err != nil {
		return failure(KindStorage, "storage commit failed: "+err.Error(), nil, now)
	}
	if len(existing) > 0 {
		committed := make(map[string]bool, len(existing))
		for _, c := range existing {
			committed[c.FullCode] = true
		}
		var duplicates []string
		for _, fc := range fullCodes {
			if committed[fc] {
				duplicates = append(duplicates, fc)
			}
		}
		return failure(KindDuplicateProductCode, "duplicate product code", duplicates, now)
	}

	pkg := &model.AggregatePackage{
		TaskID:    task.ID,
		SSCC:      sscc,
		RawValue:  box.RawValue,
		Timestamp: now,
		Codes:     make([]model.AggregatedCode, 0, len(products)),
	}
	for i, code := range products {
		gtin, _ := code.Value(gs1.AIGTIN)
		serial, _ := code.Value(gs1.AISerial)
		pkg.Codes = append(pkg.Codes, model.AggregatedCode{
			Position:     i,
			FullCode:     code.RawValue,
			GTIN:         gtin,
			SerialNumber: serial,
		})
	}

	if err := p.store.Commit(ctx, pkg, clearBuffer); err != nil {
		return failure(KindStorage, "storage commit failed: "+err.Error(), nil, now)
	}

	return success(pkg, now)
}

// partition splits codes into distinct product and package codes, keeping
// first-seen order. Codes of any other content type take no part in a check.
func partition(codes []classifier.ClassifiedCode) (products, packages []classifier.ClassifiedCode) {
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code.RawValue] {
			continue
		}
		seen[code.RawValue] = true
		switch {
		case code.IsProduct():
			products = append(products, code)
		case code.IsPackage():
			packages = append(packages, code)
		}
	}
	return products, packages
}

// sameGTIN compares GTINs ignoring zero padding, so a GTIN-13 task matches
// its 14-digit AI 01 form
func sameGTIN(a, b string) bool {
	return strings.TrimLeft(a, "0") == strings.TrimLeft(b, "0")
}
