package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crm-datakeeper/internal/config"
	"crm-datakeeper/internal/store"
)

// fakeTar emulates the archiving utility: pack records the source tree's
// entries and their contents, unpack recreates them. Lets the full
// orchestration flow run without external binaries.
type fakeTar struct {
	archives map[string]map[string][]byte
}

func newFakeTar() *fakeTar {
	return &fakeTar{archives: make(map[string]map[string][]byte)}
}

func (f *fakeTar) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	switch spec.Args[0] {
	case "-czf":
		target, sourceDir := spec.Args[1], spec.Args[3]
		entries := make(map[string][]byte)
		err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(sourceDir, path)
			if err != nil || rel == "." {
				return err
			}
			if d.IsDir() {
				entries[rel+"/"] = nil
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			entries[rel] = content
			return nil
		})
		if err != nil {
			return &CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
		}
		f.archives[strings.TrimSuffix(target, ".partial")] = entries
		if err := os.WriteFile(target, []byte("fake-tar"), 0o644); err != nil {
			return &CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
		}
	case "-xzf":
		archive, target := spec.Args[1], spec.Args[3]
		entries, ok := f.archives[strings.TrimSuffix(archive, ".partial")]
		if !ok {
			return &CommandResult{ExitCode: 2, Stderr: "unknown archive"}, nil
		}
		for name, content := range entries {
			path := filepath.Join(target, name)
			if strings.HasSuffix(name, "/") {
				if err := os.MkdirAll(path, 0o755); err != nil {
					return &CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
				}
				continue
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return &CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
			}
			if err := os.WriteFile(path, content, 0o644); err != nil {
				return &CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
			}
		}
	}
	return &CommandResult{ExitCode: 0}, nil
}

// liveDBFixture is large and repetitive so compressed artifacts exercise real
// deflate blocks rather than stored literals.
var liveDBFixture = "SQLite format 3\x00" +
	strings.Repeat("INSERT INTO contacts VALUES (1, 'fixture', 'fixture@example.com');\n", 200)

func newTestOrchestrator(t *testing.T, runner CommandRunner) (*Orchestrator, *gorm.DB, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	liveDB := filepath.Join(dir, "live.db")
	require.NoError(t, os.WriteFile(liveDB, []byte(liveDBFixture), 0o644))

	appRoot := filepath.Join(dir, "app")
	require.NoError(t, os.MkdirAll(filepath.Join(appRoot, "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appRoot, "uploads", "doc.txt"), []byte("doc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appRoot, "config.yaml"), []byte("k: v\n"), 0o644))

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", Path: liveDB},
		Backup: config.BackupConfig{
			AppRoot:        appRoot,
			BackupDir:      filepath.Join(dir, "backups"),
			Files:          []string{"config.yaml", "uploads"},
			RetentionDays:  30,
			Compression:    "none",
			CommandTimeout: time.Minute,
		},
	}

	db, err := store.Open(&config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "store.db")})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))

	return NewOrchestrator(db, cfg, runner, nil, testLogger()), db, cfg
}

func TestCreateDatabaseOnlyBackup(t *testing.T) {
	orchestrator, db, _ := newTestOrchestrator(t, &mockRunner{})

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly, store.JobConfig{})
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusCompleted, job.Status)
	assert.True(t, strings.HasSuffix(job.ArtifactPath, ".sql"))
	assert.FileExists(t, job.ArtifactPath)
	assert.NoFileExists(t, job.ArtifactPath+".partial")
	assert.Len(t, job.Checksum, 64)
	assert.NotZero(t, job.FileSizeBytes)
	require.NotNil(t, job.VerificationResult)
	assert.True(t, job.VerificationResult.Valid())
	assert.NotNil(t, job.CompletedAt)
	assert.NotNil(t, job.ExpiresAt)

	var persisted store.BackupJob
	require.NoError(t, db.First(&persisted, "id = ?", job.ID).Error)
	assert.Equal(t, store.BackupStatusCompleted, persisted.Status)
	assert.Equal(t, job.Checksum, persisted.Checksum)
}

func TestCreateDatabaseOnlyCompressed(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, &mockRunner{})

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly,
		store.JobConfig{Compression: "gzip"})
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusCompleted, job.Status)
	assert.True(t, strings.HasSuffix(job.ArtifactPath, ".sql.gz"))
	assert.True(t, job.VerificationResult.Valid())

	// The artifact decompresses back to the exact dump.
	decompressed := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, NewCompressionManager().DecompressFile(job.ArtifactPath, decompressed))
	content, err := os.ReadFile(decompressed)
	require.NoError(t, err)
	assert.Equal(t, liveDBFixture, string(content))
}

func TestFailedVerificationLeavesNoChecksum(t *testing.T) {
	orchestrator, db, cfg := newTestOrchestrator(t, &mockRunner{})

	// A database file with no recognizable engine signature fails the
	// content check.
	require.NoError(t, os.WriteFile(cfg.Database.Path, []byte("not a database at all"), 0o644))

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly, store.JobConfig{})
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "no recognized engine signature")

	// A FAILED job carries no artifact metadata.
	assert.Empty(t, job.ArtifactPath)
	assert.Empty(t, job.Checksum)
	assert.Zero(t, job.FileSizeBytes)
	assert.Nil(t, job.VerificationResult)

	var persisted store.BackupJob
	require.NoError(t, db.First(&persisted, "id = ?", job.ID).Error)
	assert.Equal(t, store.BackupStatusFailed, persisted.Status)
	assert.Empty(t, persisted.Checksum)
	assert.Nil(t, persisted.VerificationResult)
}

func TestCreateFullBackup(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, newFakeTar())

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeFull, store.JobConfig{})
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusCompleted, job.Status)
	assert.True(t, strings.HasSuffix(job.ArtifactPath, ".tar.gz"))
	assert.FileExists(t, job.ArtifactPath)
	assert.True(t, job.VerificationResult.Valid())
}

func TestCreateInvalidType(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, &mockRunner{})

	_, err := orchestrator.Create(context.Background(), "acme", store.BackupType("WEEKLY"), store.JobConfig{})
	require.Error(t, err)
}

func TestDryRunCreatesWithoutExecuting(t *testing.T) {
	orchestrator, _, cfg := newTestOrchestrator(t, &mockRunner{})

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeFull,
		store.JobConfig{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Empty(t, job.ArtifactPath)
	assert.NoDirExists(t, filepath.Join(cfg.Backup.BackupDir, "acme"))
}

func TestIncrementalRequiresBase(t *testing.T) {
	orchestrator, _, cfg := newTestOrchestrator(t, newFakeTar())

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeIncremental, store.JobConfig{})
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "no completed full backup")
	assert.Empty(t, job.ArtifactPath)

	// No partial artifact left behind.
	matches, err := filepath.Glob(filepath.Join(cfg.Backup.BackupDir, "acme", "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIncrementalAfterFull(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, newFakeTar())

	base, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeFull, store.JobConfig{})
	require.NoError(t, err)
	require.Equal(t, store.BackupStatusCompleted, base.Status)

	incremental, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeIncremental, store.JobConfig{})
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusCompleted, incremental.Status)
	assert.FileExists(t, incremental.ArtifactPath)
}

func TestRestoreDatabaseOnly(t *testing.T) {
	orchestrator, _, cfg := newTestOrchestrator(t, &mockRunner{})

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly, store.JobConfig{})
	require.NoError(t, err)
	require.Equal(t, store.BackupStatusCompleted, job.Status)

	// Corrupt the live database, then restore.
	require.NoError(t, os.WriteFile(cfg.Database.Path, []byte("garbage"), 0o644))

	require.True(t, orchestrator.Restore(context.Background(), job, nil))

	restored, err := os.ReadFile(cfg.Database.Path)
	require.NoError(t, err)
	assert.Equal(t, liveDBFixture, string(restored))

	snapshots, err := filepath.Glob(cfg.Database.Path + ".*.bak")
	require.NoError(t, err)
	assert.Len(t, snapshots, 1, "live database is snapshotted before overwrite")
}

func TestRestoreFullRoundTrip(t *testing.T) {
	orchestrator, _, cfg := newTestOrchestrator(t, newFakeTar())

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeFull, store.JobConfig{})
	require.NoError(t, err)
	require.Equal(t, store.BackupStatusCompleted, job.Status)

	// Corrupt the live database and every configured file, then restore.
	require.NoError(t, os.WriteFile(cfg.Database.Path, []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Backup.AppRoot, "config.yaml"), []byte("tampered"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Backup.AppRoot, "uploads", "doc.txt"), []byte("tampered"), 0o644))

	require.True(t, orchestrator.Restore(context.Background(), job, nil))

	restoredDB, err := os.ReadFile(cfg.Database.Path)
	require.NoError(t, err)
	assert.Equal(t, liveDBFixture, string(restoredDB), "database content is reproduced exactly")

	restoredConfig, err := os.ReadFile(filepath.Join(cfg.Backup.AppRoot, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "k: v\n", string(restoredConfig))

	restoredDoc, err := os.ReadFile(filepath.Join(cfg.Backup.AppRoot, "uploads", "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "doc", string(restoredDoc))

	// Both pre-restore snapshots exist: the database copy and the file tree.
	dbSnapshots, err := filepath.Glob(cfg.Database.Path + ".*.bak")
	require.NoError(t, err)
	assert.Len(t, dbSnapshots, 1)

	fileSnapshots, err := filepath.Glob(filepath.Join(cfg.Backup.BackupDir, "pre-restore-*"))
	require.NoError(t, err)
	require.Len(t, fileSnapshots, 1)
	snapshotConfig, err := os.ReadFile(filepath.Join(fileSnapshots[0], "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "tampered", string(snapshotConfig), "the snapshot holds the pre-restore state")
}

func TestRestorePointInTimeBound(t *testing.T) {
	orchestrator, _, cfg := newTestOrchestrator(t, &mockRunner{})

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly, store.JobConfig{})
	require.NoError(t, err)
	require.Equal(t, store.BackupStatusCompleted, job.Status)

	after := job.CompletedAt.Add(time.Hour)
	assert.False(t, orchestrator.Restore(context.Background(), job, &after))

	// No mutation happened.
	live, err := os.ReadFile(cfg.Database.Path)
	require.NoError(t, err)
	assert.Equal(t, liveDBFixture, string(live))

	before := job.CompletedAt.Add(-time.Second)
	assert.True(t, orchestrator.Restore(context.Background(), job, &before))
}

func TestRestoreRejectsNonCompletedJob(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, &mockRunner{})

	job := &store.BackupJob{
		ID:       "pending-job",
		TenantID: "acme",
		Type:     store.BackupTypeDatabaseOnly,
		Status:   store.BackupStatusPending,
	}
	assert.False(t, orchestrator.Restore(context.Background(), job, nil))
}

func TestCleanupExpiredIsIdempotentAndScoped(t *testing.T) {
	orchestrator, db, _ := newTestOrchestrator(t, &mockRunner{})

	expired, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly, store.JobConfig{})
	require.NoError(t, err)
	require.Equal(t, store.BackupStatusCompleted, expired.Status)

	fresh, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly, store.JobConfig{})
	require.NoError(t, err)
	require.Equal(t, store.BackupStatusCompleted, fresh.Status)

	require.NoError(t, db.Model(&store.BackupJob{}).Where("id = ?", expired.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	assert.Equal(t, 1, orchestrator.CleanupExpired(context.Background(), false))
	assert.NoFileExists(t, expired.ArtifactPath)
	assert.FileExists(t, fresh.ArtifactPath, "unexpired jobs are never touched")

	var reloaded store.BackupJob
	require.NoError(t, db.First(&reloaded, "id = ?", expired.ID).Error)
	assert.Equal(t, store.BackupStatusExpired, reloaded.Status)

	// Second sweep expires nothing further.
	assert.Equal(t, 0, orchestrator.CleanupExpired(context.Background(), false))
}

func TestCleanupDryRun(t *testing.T) {
	orchestrator, db, _ := newTestOrchestrator(t, &mockRunner{})

	job, err := orchestrator.Create(context.Background(), "acme", store.BackupTypeDatabaseOnly, store.JobConfig{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&store.BackupJob{}).Where("id = ?", job.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	assert.Equal(t, 1, orchestrator.CleanupExpired(context.Background(), true))
	assert.FileExists(t, job.ArtifactPath)

	var reloaded store.BackupJob
	require.NoError(t, db.First(&reloaded, "id = ?", job.ID).Error)
	assert.Equal(t, store.BackupStatusCompleted, reloaded.Status)
}
