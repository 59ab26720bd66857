package store

import (
	"time"
)

// BackupType identifies what a backup job captures.
type BackupType string

const (
	BackupTypeFull         BackupType = "FULL"
	BackupTypeDatabaseOnly BackupType = "DATABASE_ONLY"
	BackupTypeFilesOnly    BackupType = "FILES_ONLY"
	BackupTypeIncremental  BackupType = "INCREMENTAL"
	BackupTypeDifferential BackupType = "DIFFERENTIAL"
)

// Valid reports whether t is a known backup type.
func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeFull, BackupTypeDatabaseOnly, BackupTypeFilesOnly,
		BackupTypeIncremental, BackupTypeDifferential:
		return true
	}
	return false
}

// BackupStatus is the lifecycle state of a backup job. Transitions are
// monotonic: a job never re-enters PENDING, and EXPIRED is only reachable
// from COMPLETED.
type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "PENDING"
	BackupStatusRunning   BackupStatus = "RUNNING"
	BackupStatusCompleted BackupStatus = "COMPLETED"
	BackupStatusFailed    BackupStatus = "FAILED"
	BackupStatusExpired   BackupStatus = "EXPIRED"
)

// BackupJob is a backup lifecycle record. ArtifactPath and Checksum are
// non-empty iff Status == COMPLETED.
type BackupJob struct {
	ID       string       `gorm:"primaryKey;size:36"`
	TenantID string       `gorm:"size:36;index;not null"`
	Type     BackupType   `gorm:"size:16;not null"`
	Status   BackupStatus `gorm:"size:16;not null;default:PENDING;index"`

	Config             JobConfig           `gorm:"serializer:json"`
	ArtifactPath       string              `gorm:"size:512"`
	FileSizeBytes      int64
	Checksum           string              `gorm:"size:64"`
	VerificationResult *VerificationResult `gorm:"serializer:json"`
	ErrorMessage       string              `gorm:"type:text"`

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ExpiresAt   *time.Time `gorm:"index"`
}

// JobConfig is the caller-supplied configuration map of a backup job.
type JobConfig struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Files         []string `json:"files"`
	RetentionDays int      `json:"retention_days"`
	Async         bool     `json:"async"`
	DryRun        bool     `json:"dry_run"`
	Scheduled     bool     `json:"scheduled"`
	Compression   string   `json:"compression"`
}

// VerificationResult is the structured outcome of verifying an artifact.
type VerificationResult struct {
	Exists        bool      `json:"exists"`
	SizeBytes     int64     `json:"size_bytes"`
	Checksum      string    `json:"checksum"`
	ChecksumValid bool      `json:"checksum_valid"`
	ContentValid  bool      `json:"content_valid"`
	Errors        []string  `json:"errors,omitempty"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// Valid reports whether the artifact passed every sub-check.
func (r *VerificationResult) Valid() bool {
	return r != nil && r.Exists && r.ChecksumValid && r.ContentValid
}

// MergeStatus is the lifecycle state of a merge job.
type MergeStatus string

const (
	MergeStatusPending    MergeStatus = "PENDING"
	MergeStatusProcessing MergeStatus = "PROCESSING"
	MergeStatusCompleted  MergeStatus = "COMPLETED"
	MergeStatusFailed     MergeStatus = "FAILED"
)

// MergeJob collapses a duplicate record into a primary record of the same
// entity type. Once COMPLETED, the duplicate is soft-deleted.
type MergeJob struct {
	ID       string      `gorm:"primaryKey;size:36"`
	TenantID string      `gorm:"size:36;index;not null"`
	Type     string      `gorm:"size:16;not null"` // entity category: COMPANY, CONTACT, LEAD
	Status   MergeStatus `gorm:"size:16;not null;default:PENDING"`

	PrimaryID   uint `gorm:"not null"`
	DuplicateID uint `gorm:"not null"`

	FieldSelections          map[string]string `gorm:"serializer:json"` // field -> "primary"|"duplicate"
	MergePreview             []FieldConflict   `gorm:"serializer:json"`
	TransferredRelationships map[string]int    `gorm:"serializer:json"`
	ErrorMessage             string            `gorm:"type:text"`

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// FieldConflict describes one mergeable field's values on both records and
// the recommended winner.
type FieldConflict struct {
	Field          string      `json:"field"`
	PrimaryValue   interface{} `json:"primary_value"`
	DuplicateValue interface{} `json:"duplicate_value"`
	Recommended    string      `json:"recommended"` // "primary" or "duplicate"
}

// CheckType selects one of the structural integrity scans.
type CheckType string

const (
	CheckTypeOrphanedRecords      CheckType = "ORPHANED_RECORDS"
	CheckTypeMissingRelationships CheckType = "MISSING_RELATIONSHIPS"
	CheckTypeDuplicateDetection   CheckType = "DUPLICATE_DETECTION"
	CheckTypeDataValidation       CheckType = "DATA_VALIDATION"
	CheckTypeForeignKeys          CheckType = "FOREIGN_KEY_CONSTRAINTS"
	CheckTypeRequiredFields       CheckType = "REQUIRED_FIELDS"
	CheckTypeDataConsistency      CheckType = "DATA_CONSISTENCY"
)

// Valid reports whether t is a known check type.
func (t CheckType) Valid() bool {
	switch t {
	case CheckTypeOrphanedRecords, CheckTypeMissingRelationships,
		CheckTypeDuplicateDetection, CheckTypeDataValidation,
		CheckTypeForeignKeys, CheckTypeRequiredFields, CheckTypeDataConsistency:
		return true
	}
	return false
}

// CheckStatus is the lifecycle state of an integrity scan invocation.
type CheckStatus string

const (
	CheckStatusPending   CheckStatus = "PENDING"
	CheckStatusRunning   CheckStatus = "RUNNING"
	CheckStatusCompleted CheckStatus = "COMPLETED"
	CheckStatusFailed    CheckStatus = "FAILED"
)

// DataIntegrityCheck records a single structural scan invocation and its results.
type DataIntegrityCheck struct {
	ID       string      `gorm:"primaryKey;size:36"`
	TenantID string      `gorm:"size:36;index;not null"`
	Type     CheckType   `gorm:"size:32;not null"`
	Status   CheckStatus `gorm:"size:16;not null;default:PENDING"`

	TargetModel string          `gorm:"size:64"`
	Parameters  CheckParameters `gorm:"serializer:json"`
	Results     *CheckResults   `gorm:"serializer:json"`
	IssuesFound int
	IssuesFixed int

	ErrorMessage string `gorm:"type:text"`

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// CheckParameters tunes an integrity scan.
type CheckParameters struct {
	AutoFix   bool   `json:"auto_fix"`
	FixMethod string `json:"fix_method"` // "delete" or "nullify"
}

// CheckResults is the structured outcome of an integrity scan.
type CheckResults struct {
	IssuesFound int          `json:"issues_found"`
	IssuesFixed int          `json:"issues_fixed"`
	Issues      []CheckIssue `json:"issues"`
	Summary     string       `json:"summary"`
}

// CheckIssue describes one problem (or one failed sub-check) found by a scan.
type CheckIssue struct {
	Type        string `json:"type"`
	Table       string `json:"table,omitempty"`
	Field       string `json:"field,omitempty"`
	Count       int    `json:"count,omitempty"`
	Description string `json:"description"`
}
