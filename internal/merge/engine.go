// Package merge collapses duplicate CRM records into a surviving primary
// record: field-level selection, relationship transfer, and soft-deletion of
// the duplicate, all inside one transaction.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "crm-datakeeper/internal/errors"
	"crm-datakeeper/internal/logging"
	"crm-datakeeper/internal/store"
)

// relationship declares how child rows of one relation are moved from the
// duplicate to the primary. Has-many relations are reparented by foreign key
// update; many-to-many associations are attached to the primary (unless
// already present) and detached from the duplicate.
type relationship struct {
	Name       string
	Table      string
	ForeignKey string

	ManyToMany bool
	JoinTable  string
	OwnerKey   string
	OtherKey   string
}

// entityDef describes one mergeable entity category.
type entityDef struct {
	Table           string
	MergeableFields []string
	Relationships   []relationship
}

func (d entityDef) mergeable(field string) bool {
	for _, f := range d.MergeableFields {
		if f == field {
			return true
		}
	}
	return false
}

var entityDefs = map[string]entityDef{
	"COMPANY": {
		Table:           "companies",
		MergeableFields: []string{"name", "website", "phone", "email", "address", "industry", "owner_id"},
		Relationships: []relationship{
			{Name: "contacts", Table: "contacts", ForeignKey: "company_id"},
			{Name: "deals", Table: "deals", ForeignKey: "company_id"},
			{Name: "tasks", Table: "tasks", ForeignKey: "company_id"},
			{Name: "notes", Table: "notes", ForeignKey: "company_id"},
			{Name: "tags", ManyToMany: true, JoinTable: "company_tags", OwnerKey: "company_id", OtherKey: "tag_id"},
		},
	},
	"CONTACT": {
		Table:           "contacts",
		MergeableFields: []string{"first_name", "last_name", "email", "phone", "job_title", "company_id", "owner_id"},
		Relationships: []relationship{
			{Name: "deals", Table: "deals", ForeignKey: "contact_id"},
			{Name: "tasks", Table: "tasks", ForeignKey: "contact_id"},
			{Name: "notes", Table: "notes", ForeignKey: "contact_id"},
		},
	},
	"LEAD": {
		Table:           "leads",
		MergeableFields: []string{"name", "email", "phone", "source", "status", "company"},
	},
}

// Engine previews and processes merge jobs.
type Engine struct {
	db     *gorm.DB
	logger *logging.Logger

	now func() time.Time
}

// NewEngine creates a merge engine bound to the given database.
func NewEngine(db *gorm.DB, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Engine{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Preview loads both records and reports, per mergeable field, both values
// and a recommended winner: the duplicate's value is recommended only when
// it is meaningful and the primary's is not; every tie goes to the primary.
func (e *Engine) Preview(ctx context.Context, tenantID, entityType string, primaryID, duplicateID uint) ([]store.FieldConflict, error) {
	def, ok := entityDefs[entityType]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown entity type %q", entityType), nil)
	}

	primary, err := loadRecord(e.db.WithContext(ctx), def.Table, tenantID, primaryID)
	if err != nil {
		return nil, err
	}
	duplicate, err := loadRecord(e.db.WithContext(ctx), def.Table, tenantID, duplicateID)
	if err != nil {
		return nil, err
	}

	conflicts := make([]store.FieldConflict, 0, len(def.MergeableFields))
	for _, field := range def.MergeableFields {
		pv, dv := primary[field], duplicate[field]
		recommended := "primary"
		if meaningful(dv) && !meaningful(pv) {
			recommended = "duplicate"
		}
		conflicts = append(conflicts, store.FieldConflict{
			Field:          field,
			PrimaryValue:   pv,
			DuplicateValue: dv,
			Recommended:    recommended,
		})
	}
	return conflicts, nil
}

// Create persists a PENDING merge job carrying the conflict preview.
func (e *Engine) Create(ctx context.Context, tenantID, entityType string, primaryID, duplicateID uint, fieldSelections map[string]string) (*store.MergeJob, error) {
	if primaryID == duplicateID {
		return nil, apperrors.NewValidationError("primary and duplicate must be different records", nil)
	}

	preview, err := e.Preview(ctx, tenantID, entityType, primaryID, duplicateID)
	if err != nil {
		return nil, err
	}

	job := &store.MergeJob{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Type:            entityType,
		Status:          store.MergeStatusPending,
		PrimaryID:       primaryID,
		DuplicateID:     duplicateID,
		FieldSelections: fieldSelections,
		MergePreview:    preview,
		CreatedAt:       e.now(),
	}
	if err := e.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, apperrors.NewStorageError("failed to persist merge job", err)
	}
	return job, nil
}

// Process runs a merge job to completion. All data mutations happen in one
// transaction; any failure rolls the merge back, marks the job FAILED with
// the captured message and returns false. Process never propagates an error.
func (e *Engine) Process(ctx context.Context, job *store.MergeJob) bool {
	def, ok := entityDefs[job.Type]
	if !ok {
		e.failJob(job, apperrors.NewValidationError(fmt.Sprintf("unknown entity type %q", job.Type), nil))
		return false
	}

	job.Status = store.MergeStatusProcessing
	if err := e.db.WithContext(ctx).Save(job).Error; err != nil {
		e.logger.Errorf("Failed to mark merge job %s processing: %v", job.ID, err)
		return false
	}

	transferred := make(map[string]int)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadRecord(tx, def.Table, job.TenantID, job.PrimaryID); err != nil {
			return err
		}
		duplicate, err := loadRecord(tx, def.Table, job.TenantID, job.DuplicateID)
		if err != nil {
			return err
		}

		if err := e.applyFieldSelections(tx, def, job, duplicate); err != nil {
			return err
		}

		for _, rel := range def.Relationships {
			count, err := e.transferRelationship(tx, rel, job)
			if err != nil {
				return err
			}
			transferred[rel.Name] = count
		}

		// Retire the duplicate. Soft delete keeps its history recoverable.
		return tx.Table(def.Table).Where("id = ?", job.DuplicateID).
			Update("deleted_at", e.now()).Error
	})

	if err != nil {
		e.failJob(job, err)
		return false
	}

	completed := e.now()
	job.TransferredRelationships = transferred
	job.Status = store.MergeStatusCompleted
	job.CompletedAt = &completed
	if err := e.db.WithContext(ctx).Save(job).Error; err != nil {
		e.logger.Errorf("Failed to mark merge job %s completed: %v", job.ID, err)
		return false
	}

	e.logger.LogMergeOperation(job.ID, job.Type, transferred, nil)
	return true
}

// applyFieldSelections copies every field marked "duplicate" from the
// duplicate record onto the primary. Unknown fields and "primary" selections
// are no-ops.
func (e *Engine) applyFieldSelections(tx *gorm.DB, def entityDef, job *store.MergeJob, duplicate map[string]interface{}) error {
	updates := make(map[string]interface{})
	for field, choice := range job.FieldSelections {
		if !strings.EqualFold(choice, "duplicate") || !def.mergeable(field) {
			continue
		}
		updates[field] = duplicate[field]
	}
	if len(updates) == 0 {
		return nil
	}

	if err := tx.Table(def.Table).Where("id = ?", job.PrimaryID).Updates(updates).Error; err != nil {
		return apperrors.NewStorageError("failed to apply field selections", err)
	}
	return nil
}

func (e *Engine) transferRelationship(tx *gorm.DB, rel relationship, job *store.MergeJob) (int, error) {
	if rel.ManyToMany {
		attach := fmt.Sprintf(
			`INSERT INTO %s (%s, %s)
			 SELECT ?, %s FROM %s WHERE %s = ?
			 AND %s NOT IN (SELECT %s FROM %s WHERE %s = ?)`,
			rel.JoinTable, rel.OwnerKey, rel.OtherKey,
			rel.OtherKey, rel.JoinTable, rel.OwnerKey,
			rel.OtherKey, rel.OtherKey, rel.JoinTable, rel.OwnerKey)

		res := tx.Exec(attach, job.PrimaryID, job.DuplicateID, job.PrimaryID)
		if res.Error != nil {
			return 0, apperrors.NewStorageError(fmt.Sprintf("failed to attach %s to primary", rel.Name), res.Error)
		}
		attached := int(res.RowsAffected)

		detach := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rel.JoinTable, rel.OwnerKey)
		if err := tx.Exec(detach, job.DuplicateID).Error; err != nil {
			return 0, apperrors.NewStorageError(fmt.Sprintf("failed to detach %s from duplicate", rel.Name), err)
		}
		return attached, nil
	}

	res := tx.Table(rel.Table).
		Where(rel.ForeignKey+" = ? AND tenant_id = ? AND deleted_at IS NULL", job.DuplicateID, job.TenantID).
		Update(rel.ForeignKey, job.PrimaryID)
	if res.Error != nil {
		return 0, apperrors.NewStorageError(fmt.Sprintf("failed to reparent %s", rel.Name), res.Error)
	}
	return int(res.RowsAffected), nil
}

func (e *Engine) failJob(job *store.MergeJob, cause error) {
	job.Status = store.MergeStatusFailed
	job.ErrorMessage = cause.Error()
	if err := e.db.Save(job).Error; err != nil {
		e.logger.Errorf("Failed to persist failure of merge job %s: %v", job.ID, err)
	}
	e.logger.LogMergeOperation(job.ID, job.Type, nil, cause)
}

// loadRecord fetches one live row as a generic column map.
func loadRecord(tx *gorm.DB, table, tenantID string, id uint) (map[string]interface{}, error) {
	record := make(map[string]interface{})
	err := tx.Table(table).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", id, tenantID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewMissingRecordError(table, id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to load %s record", table), err)
	}
	return record, nil
}

// meaningful reports whether a column value counts as present: non-nil and,
// for text, non-blank after trimming.
func meaningful(v interface{}) bool {
	switch value := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(value) != ""
	case []byte:
		return strings.TrimSpace(string(value)) != ""
	default:
		return true
	}
}
