package aggregation

import (
	"time"

	"example.com/backstage/services/aggregation/internal/model"
)

// FailureKind tells the rule that rejected a check
type FailureKind string

const (
	KindNone                 FailureKind = ""
	KindSSCCCount            FailureKind = "sscc_count"
	KindGTINMismatch         FailureKind = "gtin_mismatch"
	KindPackCount            FailureKind = "pack_count"
	KindDuplicateSSCC        FailureKind = "duplicate_sscc"
	KindDuplicateProductCode FailureKind = "duplicate_product_code"
	KindStorage              FailureKind = "storage"
)

// CheckResult is the outcome of one aggregation check. Business rule
// rejections and storage faults are both failures; Kind tells them apart.
type CheckResult struct {
	Success      bool                    `json:"success"`
	Kind         FailureKind             `json:"kind,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	InvalidCodes []string                `json:"invalid_codes"`
	Package      *model.AggregatePackage `json:"package,omitempty"`
	CheckedAt    time.Time               `json:"checked_at"`
}

// IsStorageFailure reports whether the check failed on infrastructure rather
// than on a business rule
func (r CheckResult) IsStorageFailure() bool {
	return !r.Success && r.Kind == KindStorage
}

// metricKind is the label used for metrics and logs
func (r CheckResult) metricKind() string {
	if r.Success {
		return "success"
	}
	return string(r.Kind)
}

func success(pkg *model.AggregatePackage, at time.Time) CheckResult {
	return CheckResult{Success: true, InvalidCodes: []string{}, Package: pkg, CheckedAt: at}
}

func failure(kind FailureKind, reason string, invalid []string, at time.Time) CheckResult {
	if invalid == nil {
		invalid = []string{}
	}
	return CheckResult{Kind: kind, Reason: reason, InvalidCodes: invalid, CheckedAt: at}
}
