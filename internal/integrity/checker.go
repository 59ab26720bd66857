// Package integrity implements the structural data-quality scans: orphan
// detection, missing relationships, duplicates, format validation, foreign
// key verification, required fields and consistency checks. Each run is
// persisted as a DataIntegrityCheck record.
package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "crm-datakeeper/internal/errors"
	"crm-datakeeper/internal/logging"
	"crm-datakeeper/internal/store"
)

// Checker runs integrity scans against a tenant's data. Scans are
// read-mostly; only ORPHANED_RECORDS mutates data, and only when auto-fix is
// requested.
type Checker struct {
	db     *gorm.DB
	logger *logging.Logger

	now func() time.Time
}

// NewChecker creates a checker bound to the given database.
func NewChecker(db *gorm.DB, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Checker{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes one scan for the tenant and persists the invocation record.
// targetModel optionally narrows the orphan scan to one table. Individual
// sub-check failures are isolated into check_error issues so one broken
// query never blocks the rest of the scan; Run itself fails only on invalid
// input or when the invocation record cannot be persisted.
func (c *Checker) Run(ctx context.Context, tenantID string, checkType store.CheckType, targetModel string, params store.CheckParameters) (*store.DataIntegrityCheck, error) {
	if tenantID == "" {
		return nil, apperrors.NewValidationError("tenant id is required", nil)
	}
	if !checkType.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid check type %q", checkType), nil)
	}

	check := &store.DataIntegrityCheck{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Type:        checkType,
		Status:      store.CheckStatusRunning,
		TargetModel: targetModel,
		Parameters:  params,
		CreatedAt:   c.now(),
	}
	if err := c.db.WithContext(ctx).Create(check).Error; err != nil {
		return nil, apperrors.NewStorageError("failed to persist integrity check", err)
	}

	started := c.now()
	results := c.dispatch(ctx, check)
	results.Summary = fmt.Sprintf("%s: %d issues found, %d fixed",
		checkType, results.IssuesFound, results.IssuesFixed)

	completed := c.now()
	check.Results = results
	check.IssuesFound = results.IssuesFound
	check.IssuesFixed = results.IssuesFixed
	check.Status = store.CheckStatusCompleted
	check.CompletedAt = &completed
	if err := c.db.WithContext(ctx).Save(check).Error; err != nil {
		return nil, apperrors.NewStorageError("failed to persist integrity check results", err)
	}

	c.logger.LogIntegrityScan(string(checkType), tenantID,
		results.IssuesFound, results.IssuesFixed, c.now().Sub(started), nil)
	return check, nil
}

func (c *Checker) dispatch(ctx context.Context, check *store.DataIntegrityCheck) *store.CheckResults {
	switch check.Type {
	case store.CheckTypeOrphanedRecords:
		return c.scanOrphans(ctx, check.TenantID, check.TargetModel, check.Parameters)
	case store.CheckTypeMissingRelationships:
		return c.scanMissingRelationships(ctx, check.TenantID)
	case store.CheckTypeDuplicateDetection:
		return c.scanDuplicates(ctx, check.TenantID)
	case store.CheckTypeDataValidation:
		return c.scanValidation(ctx, check.TenantID)
	case store.CheckTypeForeignKeys:
		return c.scanForeignKeys(ctx, check.TenantID)
	case store.CheckTypeRequiredFields:
		return c.scanRequiredFields(ctx, check.TenantID)
	case store.CheckTypeDataConsistency:
		return c.scanConsistency(ctx, check.TenantID)
	default:
		// Unreachable: Run validates the type before dispatching.
		return &store.CheckResults{}
	}
}

// countRaw runs a counting query with the tenant id prepended to args.
func (c *Checker) countRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Raw(query, args...).Scan(&n).Error
	return n, err
}

func appendCheckError(results *store.CheckResults, name string, err error) {
	results.Issues = append(results.Issues, store.CheckIssue{
		Type:        "check_error",
		Description: fmt.Sprintf("%s: %v", name, apperrors.NewCheckExecutionError(name, err)),
	})
}
