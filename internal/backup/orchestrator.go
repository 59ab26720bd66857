package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"crm-datakeeper/internal/config"
	apperrors "crm-datakeeper/internal/errors"
	"crm-datakeeper/internal/logging"
	"crm-datakeeper/internal/store"
)

// partialSuffix marks an artifact that has been produced but not yet
// verified. Verification strips it to recover the artifact's real name.
const partialSuffix = ".partial"

// Orchestrator owns the BackupJob lifecycle: it schedules, executes,
// verifies, restores and expires jobs, composing the dump engine, archive
// builder, file collector and verification engine. It is the only component
// that writes BackupJob records.
type Orchestrator struct {
	db          *gorm.DB
	cfg         *config.Config
	dump        *DumpEngine
	archive     *ArchiveBuilder
	files       *FileSetCollector
	verifier    *VerificationEngine
	compression *CompressionManager
	replicator  Replicator
	logger      *logging.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewOrchestrator wires an orchestrator from its dependencies.
func NewOrchestrator(db *gorm.DB, cfg *config.Config, runner CommandRunner, replicator Replicator, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if replicator == nil {
		replicator = NoopReplicator{}
	}

	compression := NewCompressionManager()
	archive := NewArchiveBuilder(runner, logger)

	return &Orchestrator{
		db:          db,
		cfg:         cfg,
		dump:        NewDumpEngine(runner, logger),
		archive:     archive,
		files:       NewFileSetCollector(cfg.Backup.AppRoot, logger),
		verifier:    NewVerificationEngine(archive, compression, logger),
		compression: compression,
		replicator:  replicator,
		logger:      logger,
		now:         time.Now,
	}
}

// Create validates the job configuration, persists a PENDING job and runs it
// immediately. Callers that want async execution run Create off the calling
// goroutine. Dry-run jobs are persisted but not executed.
func (o *Orchestrator) Create(ctx context.Context, tenantID string, backupType store.BackupType, jobCfg store.JobConfig) (*store.BackupJob, error) {
	if tenantID == "" {
		return nil, apperrors.NewValidationError("tenant id is required", nil)
	}
	if !backupType.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid backup type %q", backupType), nil)
	}

	retentionDays := jobCfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = o.cfg.Backup.RetentionDays
	}
	jobCfg.RetentionDays = retentionDays
	expiresAt := o.now().AddDate(0, 0, retentionDays)

	job := &store.BackupJob{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      backupType,
		Status:    store.BackupStatusPending,
		Config:    jobCfg,
		CreatedAt: o.now(),
		ExpiresAt: &expiresAt,
	}

	if err := o.db.Create(job).Error; err != nil {
		return nil, apperrors.NewStorageError("failed to persist backup job", err)
	}

	if jobCfg.DryRun {
		o.logger.Infof("Dry run: backup job %s created but not executed", job.ID)
		return job, nil
	}

	o.Execute(ctx, job)
	return job, nil
}

// Execute runs a pending job to completion. Failures are captured onto the
// job record and surfaced only through the return value; Execute never
// propagates an error.
func (o *Orchestrator) Execute(ctx context.Context, job *store.BackupJob) bool {
	started := o.now()
	job.Status = store.BackupStatusRunning
	job.StartedAt = &started
	if err := o.db.Save(job).Error; err != nil {
		o.logger.Errorf("Failed to mark job %s running: %v", job.ID, err)
		return false
	}

	finalPath, err := o.produceAndVerify(ctx, job)
	if err != nil {
		o.failJob(job, "execute", err)
		return false
	}

	completed := o.now()
	job.ArtifactPath = finalPath
	job.CompletedAt = &completed
	job.Status = store.BackupStatusCompleted
	if err := o.db.Save(job).Error; err != nil {
		o.logger.Errorf("Failed to mark job %s completed: %v", job.ID, err)
		return false
	}

	o.logger.LogBackupOperation("execute", job.ID, job.TenantID, o.now().Sub(started), nil)

	// Offsite replication never fails the job.
	key := fmt.Sprintf("%s/%s", job.TenantID, filepath.Base(finalPath))
	if err := o.replicator.Replicate(ctx, finalPath, key); err != nil {
		o.logger.Errorf("Replication of job %s failed: %v", job.ID, err)
	}

	return true
}

// produceAndVerify builds the artifact at a partial path, verifies it and
// renames it into place, updating the job's size/checksum/verification
// fields. The rename happens only after verification succeeds so a crash
// never leaves a verified-looking partial artifact behind.
func (o *Orchestrator) produceAndVerify(ctx context.Context, job *store.BackupJob) (string, error) {
	tenantDir := filepath.Join(o.cfg.Backup.BackupDir, job.TenantID)
	if err := os.MkdirAll(tenantDir, 0o755); err != nil {
		return "", apperrors.NewStorageError("failed to create tenant backup directory", err)
	}

	workDir, err := os.MkdirTemp("", "datakeeper-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return "", apperrors.NewStorageError("failed to create working directory", err)
	}
	defer os.RemoveAll(workDir)

	finalPath, err := o.buildArtifact(ctx, job, workDir, tenantDir)
	if err != nil {
		return "", err
	}
	partialPath := finalPath + partialSuffix

	// Size, checksum and the verification record are set only once the
	// artifact passed: a FAILED job never carries a checksum.
	result := o.verifier.Verify(ctx, partialPath, job.Type, "")
	if !result.Valid() {
		os.Remove(partialPath)
		return "", apperrors.NewValidationError(
			fmt.Sprintf("artifact verification failed: %v", result.Errors), nil)
	}
	job.VerificationResult = result
	job.FileSizeBytes = result.SizeBytes
	job.Checksum = result.Checksum

	if err := os.Rename(partialPath, finalPath); err != nil {
		return "", apperrors.NewStorageError("failed to move verified artifact into place", err)
	}

	return finalPath, nil
}

// buildArtifact dispatches on the backup type and writes the artifact to
// finalPath+partialSuffix. It returns the intended final path.
func (o *Orchestrator) buildArtifact(ctx context.Context, job *store.BackupJob, workDir, tenantDir string) (string, error) {
	fileList := job.Config.Files
	if len(fileList) == 0 {
		fileList = o.cfg.Backup.Files
	}

	switch job.Type {
	case store.BackupTypeFull:
		dumpPath := filepath.Join(workDir, ArchiveDumpName)
		if err := o.dump.Dump(ctx, &o.cfg.Database, dumpPath); err != nil {
			return "", err
		}
		if _, err := o.files.CollectAll(fileList, filepath.Join(workDir, ArchiveFilesDir)); err != nil {
			return "", err
		}
		finalPath := filepath.Join(tenantDir, job.ID+archiveExtension)
		return finalPath, o.archive.Pack(ctx, workDir, finalPath+partialSuffix)

	case store.BackupTypeDatabaseOnly:
		dumpPath := filepath.Join(workDir, ArchiveDumpName)
		if err := o.dump.Dump(ctx, &o.cfg.Database, dumpPath); err != nil {
			return "", err
		}
		compression := o.dumpCompression(job)
		compressedPath, err := o.compression.CompressFile(dumpPath, compression)
		if err != nil {
			return "", err
		}
		finalPath := filepath.Join(tenantDir, job.ID+".sql"+compression.Extension())
		return finalPath, renameOrCopy(compressedPath, finalPath+partialSuffix)

	case store.BackupTypeFilesOnly:
		if _, err := o.files.CollectAll(fileList, filepath.Join(workDir, ArchiveFilesDir)); err != nil {
			return "", err
		}
		finalPath := filepath.Join(tenantDir, job.ID+archiveExtension)
		return finalPath, o.archive.Pack(ctx, workDir, finalPath+partialSuffix)

	case store.BackupTypeIncremental, store.BackupTypeDifferential:
		// Differential delegates to the incremental algorithm: both collect
		// files changed since the latest completed full backup.
		base, err := store.LatestCompletedFull(o.db, job.TenantID)
		if err != nil {
			return "", apperrors.NewStorageError("failed to look up base backup", err)
		}
		if base == nil || base.CompletedAt == nil {
			return "", apperrors.NewNoBaseBackupError(job.TenantID)
		}
		if _, err := o.files.CollectChangedSince(fileList, *base.CompletedAt, filepath.Join(workDir, ArchiveFilesDir)); err != nil {
			return "", err
		}
		finalPath := filepath.Join(tenantDir, job.ID+archiveExtension)
		return finalPath, o.archive.Pack(ctx, workDir, finalPath+partialSuffix)

	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid backup type %q", job.Type), nil)
	}
}

func (o *Orchestrator) dumpCompression(job *store.BackupJob) CompressionType {
	if job.Config.Compression != "" {
		return CompressionType(job.Config.Compression)
	}
	return CompressionType(o.cfg.Backup.Compression)
}

// Restore restores the database and/or files captured by a COMPLETED job.
// pointInTime, when given, must not be after the job's completion time.
// Restore returns false on any failure, after logging; it never panics or
// propagates errors.
func (o *Orchestrator) Restore(ctx context.Context, job *store.BackupJob, pointInTime *time.Time) bool {
	if job.Status != store.BackupStatusCompleted {
		o.logger.Errorf("Cannot restore job %s: status is %s, not COMPLETED", job.ID, job.Status)
		return false
	}
	if _, err := os.Stat(job.ArtifactPath); err != nil {
		o.logger.Errorf("Cannot restore job %s: %v", job.ID, apperrors.NewArtifactMissingError(job.ArtifactPath))
		return false
	}
	if pointInTime != nil && job.CompletedAt != nil && pointInTime.After(*job.CompletedAt) {
		o.logger.Errorf("Cannot restore job %s: %v", job.ID,
			apperrors.NewInvalidPointInTimeError(fmt.Sprintf(
				"requested recovery point %s is after backup completion %s",
				pointInTime.Format(time.RFC3339), job.CompletedAt.Format(time.RFC3339))))
		return false
	}

	started := o.now()

	// The transaction keeps the job record consistent across the logical
	// restore steps. The external dump/file mutations themselves are not
	// transactional; a crash mid-restore is recovered manually from the
	// pre-restore snapshot.
	err := o.db.Transaction(func(tx *gorm.DB) error {
		return o.restoreArtifact(ctx, job)
	})

	o.logger.LogBackupOperation("restore", job.ID, job.TenantID, o.now().Sub(started), err)
	return err == nil
}

func (o *Orchestrator) restoreArtifact(ctx context.Context, job *store.BackupJob) error {
	fileList := job.Config.Files
	if len(fileList) == 0 {
		fileList = o.cfg.Backup.Files
	}

	switch job.Type {
	case store.BackupTypeFull:
		scratch, err := os.MkdirTemp("", "restore-"+uuid.NewString()[:8]+"-")
		if err != nil {
			return apperrors.NewStorageError("failed to create restore directory", err)
		}
		defer os.RemoveAll(scratch)

		if err := o.archive.Unpack(ctx, job.ArtifactPath, scratch); err != nil {
			return err
		}
		if err := o.dump.Restore(ctx, &o.cfg.Database, filepath.Join(scratch, ArchiveDumpName)); err != nil {
			return err
		}
		return o.restoreFiles(scratch, fileList)

	case store.BackupTypeDatabaseOnly:
		dumpPath := job.ArtifactPath
		if DetectCompression(dumpPath) != CompressionNone {
			scratch, err := os.MkdirTemp("", "restore-"+uuid.NewString()[:8]+"-")
			if err != nil {
				return apperrors.NewStorageError("failed to create restore directory", err)
			}
			defer os.RemoveAll(scratch)

			decompressed := filepath.Join(scratch, ArchiveDumpName)
			if err := o.compression.DecompressFile(dumpPath, decompressed); err != nil {
				return err
			}
			dumpPath = decompressed
		}
		return o.dump.Restore(ctx, &o.cfg.Database, dumpPath)

	case store.BackupTypeFilesOnly, store.BackupTypeIncremental, store.BackupTypeDifferential:
		scratch, err := os.MkdirTemp("", "restore-"+uuid.NewString()[:8]+"-")
		if err != nil {
			return apperrors.NewStorageError("failed to create restore directory", err)
		}
		defer os.RemoveAll(scratch)

		if err := o.archive.Unpack(ctx, job.ArtifactPath, scratch); err != nil {
			return err
		}
		return o.restoreFiles(scratch, fileList)

	default:
		return apperrors.NewValidationError(fmt.Sprintf("invalid backup type %q", job.Type), nil)
	}
}

// restoreFiles snapshots the live file tree, then overwrites it from the
// extracted files/ subtree.
func (o *Orchestrator) restoreFiles(scratch string, fileList []string) error {
	snapshot, err := o.files.SnapshotCurrent(fileList, o.cfg.Backup.BackupDir)
	if err != nil {
		return err
	}
	o.logger.Infof("Snapshotted live files to %s", snapshot)

	return o.files.RestoreInto(filepath.Join(scratch, ArchiveFilesDir), fileList)
}

// CleanupExpired scans COMPLETED jobs whose expiry has passed, deletes their
// artifacts and marks them EXPIRED. Per-job failures are logged and do not
// abort the sweep. Returns the number of jobs expired (or, in dry-run mode,
// the number that would be).
func (o *Orchestrator) CleanupExpired(ctx context.Context, dryRun bool) int {
	var jobs []store.BackupJob
	err := o.db.Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		store.BackupStatusCompleted, o.now()).Find(&jobs).Error
	if err != nil {
		o.logger.Errorf("Expiry sweep query failed: %v", err)
		return 0
	}

	expired := 0
	for i := range jobs {
		job := &jobs[i]

		if dryRun {
			o.logger.Infof("Dry run: job %s (expired %s) would be expired", job.ID, job.ExpiresAt.Format(time.RFC3339))
			expired++
			continue
		}

		if job.ArtifactPath != "" {
			if err := os.Remove(job.ArtifactPath); err != nil && !os.IsNotExist(err) {
				o.logger.Errorf("Failed to delete artifact for job %s: %v", job.ID, err)
				continue
			}
		}

		job.Status = store.BackupStatusExpired
		if err := o.db.Save(job).Error; err != nil {
			o.logger.Errorf("Failed to mark job %s expired: %v", job.ID, err)
			continue
		}

		expired++
	}

	if expired > 0 {
		o.logger.Infof("Expired %d backup jobs", expired)
	}
	return expired
}

func (o *Orchestrator) failJob(job *store.BackupJob, operation string, cause error) {
	completed := o.now()
	job.Status = store.BackupStatusFailed
	job.ErrorMessage = cause.Error()
	job.CompletedAt = &completed

	if err := o.db.Save(job).Error; err != nil {
		o.logger.Errorf("Failed to persist failure of job %s: %v", job.ID, err)
	}

	o.logger.LogBackupOperation(operation, job.ID, job.TenantID, 0, cause)
}

// renameOrCopy moves a file, falling back to copy+remove across filesystems.
func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return apperrors.NewStorageError("failed to move artifact", err)
	}
	return os.Remove(src)
}
