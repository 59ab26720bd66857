package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"crm-datakeeper/internal/backup"
	"crm-datakeeper/internal/config"
	"crm-datakeeper/internal/logging"
	"crm-datakeeper/internal/store"
)

var (
	// Backup creation flags
	backupType        string
	backupName        string
	backupDescription string
	backupFiles       []string
	retentionDays     int
	compressionType   string
	backupDryRun      bool

	// Backup listing flags
	listStatus string
	listLimit  int

	// Restore flags
	pointInTime string

	// Cleanup flags
	cleanupDryRun   bool
	cleanupSchedule string
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage tenant backups",
	Long: `Create, list, verify, restore and expire tenant backups.

Every backup job is scoped to one tenant and produces a single verified
artifact: a tar.gz archive for full and file backups, or a database dump
(optionally compressed) for database-only backups.

Examples:
  # Create a full backup
  crm-datakeeper backup create --tenant acme --type FULL

  # Create a database-only backup with zstd compression
  crm-datakeeper backup create --tenant acme --type DATABASE_ONLY --compression zstd

  # List recent backups
  crm-datakeeper backup list --tenant acme --limit 20

  # Re-verify a completed backup against its recorded checksum
  crm-datakeeper backup verify 6f1b... --tenant acme

  # Expire old backups every night at 03:00
  crm-datakeeper backup cleanup --schedule "0 3 * * *"`,
}

// backupCreateCmd creates a new backup job
var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and run a new backup job",
	Long: `Create a backup job for the tenant and execute it immediately.

The artifact is verified before the job is marked COMPLETED; a failed
verification leaves the job FAILED with no artifact in place.

Examples:
  # Full backup (database dump plus configured files)
  crm-datakeeper backup create --tenant acme --type FULL

  # Incremental file backup since the last completed full backup
  crm-datakeeper backup create --tenant acme --type INCREMENTAL

  # Validate configuration without executing
  crm-datakeeper backup create --tenant acme --type FULL --dry-run`,
	RunE: runBackupCreate,
}

// backupListCmd lists backup jobs
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup jobs for a tenant",
	RunE:  runBackupList,
}

// backupVerifyCmd re-verifies a completed backup artifact
var backupVerifyCmd = &cobra.Command{
	Use:   "verify <job-id>",
	Short: "Verify a backup artifact",
	Long: `Re-verify an existing backup artifact: existence, size, sha-256
checksum against the value recorded at completion time, and a content
sanity check appropriate to the backup type.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupVerify,
}

// backupRestoreCmd restores a completed backup
var backupRestoreCmd = &cobra.Command{
	Use:   "restore <job-id>",
	Short: "Restore a completed backup",
	Long: `Restore the database and/or files captured by a completed backup job.

Live files are snapshotted into the backup directory before being
overwritten, so a bad restore can be reverted manually.

Examples:
  # Restore a backup
  crm-datakeeper backup restore 6f1b... --tenant acme

  # Point-in-time restore (must not be after the backup's completion)
  crm-datakeeper backup restore 6f1b... --tenant acme --point-in-time 2026-08-29T12:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

// backupCleanupCmd expires backups past retention
var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Expire backups past their retention window",
	Long: `Delete artifacts of COMPLETED backups whose retention window has
passed and mark the jobs EXPIRED. With --schedule, keeps running and
sweeps on the given cron expression.`,
	RunE: runBackupCleanup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupCleanupCmd)

	// Backup creation flags
	backupCreateCmd.Flags().StringVar(&backupType, "type", "FULL", "backup type (FULL, DATABASE_ONLY, FILES_ONLY, INCREMENTAL, DIFFERENTIAL)")
	backupCreateCmd.Flags().StringVar(&backupName, "name", "", "backup name")
	backupCreateCmd.Flags().StringVar(&backupDescription, "description", "", "backup description")
	backupCreateCmd.Flags().StringSliceVar(&backupFiles, "files", nil, "file paths to include (default: configured file set)")
	backupCreateCmd.Flags().IntVar(&retentionDays, "retention-days", 0, "retention in days (default: configured retention)")
	backupCreateCmd.Flags().StringVar(&compressionType, "compression", "", "dump compression for DATABASE_ONLY (none, gzip, zstd, lz4)")
	backupCreateCmd.Flags().BoolVar(&backupDryRun, "dry-run", false, "create the job without executing it")

	// Backup listing flags
	backupListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (PENDING, RUNNING, COMPLETED, FAILED, EXPIRED)")
	backupListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of jobs to list")

	// Restore flags
	backupRestoreCmd.Flags().StringVar(&pointInTime, "point-in-time", "", "recovery point in RFC3339 format")

	// Cleanup flags
	backupCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report expirable jobs without touching them")
	backupCleanupCmd.Flags().StringVar(&cleanupSchedule, "schedule", "", "cron expression to run the sweep on repeatedly")
}

// newOrchestrator wires a backup orchestrator from the CLI configuration.
func newOrchestrator(cfg *config.Config, logger *logging.Logger) (*backup.Orchestrator, *gorm.DB, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	replicator, err := backup.NewReplicator(&cfg.Replication, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure replication: %w", err)
	}

	runner := backup.NewExecRunner(logger)
	return backup.NewOrchestrator(db, cfg, runner, replicator, logger), db, nil
}

// runBackupCreate creates and executes a backup job
func runBackupCreate(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	orchestrator, _, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backup.CommandTimeout)
	defer cancel()

	job, err := orchestrator.Create(ctx, tenantID, store.BackupType(backupType), store.JobConfig{
		Name:          backupName,
		Description:   backupDescription,
		Files:         backupFiles,
		RetentionDays: retentionDays,
		DryRun:        backupDryRun,
		Compression:   compressionType,
	})
	if err != nil {
		return fmt.Errorf("backup creation failed: %w", err)
	}

	fmt.Printf("Backup job: %s\n", job.ID)
	fmt.Printf("Status: %s\n", colorStatus(string(job.Status)))
	if job.Status == store.BackupStatusCompleted {
		fmt.Printf("Artifact: %s\n", job.ArtifactPath)
		fmt.Printf("Size: %s\n", formatBytes(job.FileSizeBytes))
		fmt.Printf("Checksum: %s\n", job.Checksum)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", job.ErrorMessage)
	}
	return nil
}

// runBackupList lists backup jobs for the tenant
func runBackupList(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}

	query := db.Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(listLimit)
	if listStatus != "" {
		query = query.Where("status = ?", listStatus)
	}

	var jobs []store.BackupJob
	if err := query.Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to list backup jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No backup jobs found")
		return nil
	}

	for _, job := range jobs {
		completed := "-"
		if job.CompletedAt != nil {
			completed = job.CompletedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-14s %-10s %10s  %s\n",
			job.ID, job.Type, colorStatus(string(job.Status)),
			formatBytes(job.FileSizeBytes), completed)
	}
	return nil
}

// runBackupVerify re-verifies an existing artifact
func runBackupVerify(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	job, err := findJob(db, args[0])
	if err != nil {
		return err
	}

	runner := backup.NewExecRunner(logger)
	verifier := backup.NewVerificationEngine(
		backup.NewArchiveBuilder(runner, logger),
		backup.NewCompressionManager(),
		logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backup.CommandTimeout)
	defer cancel()

	result := verifier.Verify(ctx, job.ArtifactPath, job.Type, job.Checksum)
	fmt.Printf("Exists: %v\n", result.Exists)
	fmt.Printf("Size: %s\n", formatBytes(result.SizeBytes))
	fmt.Printf("Checksum valid: %v\n", result.ChecksumValid)
	fmt.Printf("Content valid: %v\n", result.ContentValid)
	for _, msg := range result.Errors {
		fmt.Println(color.RedString("  %s", msg))
	}

	if !result.Valid() {
		return fmt.Errorf("artifact verification failed")
	}
	fmt.Println(color.GreenString("Artifact verified"))
	return nil
}

// runBackupRestore restores a completed backup
func runBackupRestore(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	orchestrator, db, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	job, err := findJob(db, args[0])
	if err != nil {
		return err
	}

	var recoveryPoint *time.Time
	if pointInTime != "" {
		t, err := time.Parse(time.RFC3339, pointInTime)
		if err != nil {
			return fmt.Errorf("invalid --point-in-time %q: %w", pointInTime, err)
		}
		recoveryPoint = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backup.CommandTimeout)
	defer cancel()

	if !orchestrator.Restore(ctx, job, recoveryPoint) {
		return fmt.Errorf("restore of job %s failed", job.ID)
	}
	fmt.Println(color.GreenString("Restore completed"))
	return nil
}

// runBackupCleanup expires backups past retention, once or on a schedule
func runBackupCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	orchestrator, _, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	sweep := func() {
		expired := orchestrator.CleanupExpired(context.Background(), cleanupDryRun)
		fmt.Printf("Expired %d backup jobs\n", expired)
	}

	if cleanupSchedule == "" {
		sweep()
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cleanupSchedule, sweep); err != nil {
		return fmt.Errorf("invalid --schedule %q: %w", cleanupSchedule, err)
	}

	logger.Infof("Running cleanup sweeps on schedule %q", cleanupSchedule)
	scheduler.Run()
	return nil
}

// findJob loads a backup job by id, scoped to the tenant.
func findJob(db *gorm.DB, jobID string) (*store.BackupJob, error) {
	var job store.BackupJob
	err := db.Where("id = ? AND tenant_id = ?", jobID, tenantID).First(&job).Error
	if err != nil {
		return nil, fmt.Errorf("backup job %s not found for tenant %s", jobID, tenantID)
	}
	return &job, nil
}

// colorStatus colorizes a lifecycle status for terminal output.
func colorStatus(status string) string {
	switch status {
	case "COMPLETED":
		return color.GreenString(status)
	case "FAILED":
		return color.RedString(status)
	case "RUNNING", "PROCESSING":
		return color.YellowString(status)
	case "EXPIRED":
		return color.HiBlackString(status)
	default:
		return status
	}
}

// formatBytes renders a byte count in human units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
