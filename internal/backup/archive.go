package backup

import (
	"context"
	"os"

	apperrors "crm-datakeeper/internal/errors"
	"crm-datakeeper/internal/logging"
)

// Archive layout convention: database.sql at the archive root (full backups
// only) and a files/ subtree mirroring the collected file set.
const (
	ArchiveDumpName  = "database.sql"
	ArchiveFilesDir  = "files"
	archiveExtension = ".tar.gz"
)

// ArchiveBuilder packs a working directory into a single gzip-compressed tar
// archive and unpacks an archive back into a directory, via the external
// archiving utility.
type ArchiveBuilder struct {
	runner CommandRunner
	logger *logging.Logger
}

// NewArchiveBuilder creates a new archive builder.
func NewArchiveBuilder(runner CommandRunner, logger *logging.Logger) *ArchiveBuilder {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ArchiveBuilder{runner: runner, logger: logger}
}

// Pack archives sourceDir's contents (not the directory itself) into targetPath.
func (b *ArchiveBuilder) Pack(ctx context.Context, sourceDir, targetPath string) error {
	if _, err := os.Stat(sourceDir); err != nil {
		return apperrors.NewStorageError("archive source directory missing", err).
			WithContext("path", sourceDir)
	}

	result, err := b.runner.Run(ctx, CommandSpec{
		Name: "tar",
		Args: []string{"-czf", targetPath, "-C", sourceDir, "."},
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return apperrors.NewArchiveError("pack", result.ExitCode, result.Stderr)
	}
	return nil
}

// Unpack extracts archivePath into targetDir, creating it if absent.
func (b *ArchiveBuilder) Unpack(ctx context.Context, archivePath, targetDir string) error {
	if _, err := os.Stat(archivePath); err != nil {
		return apperrors.NewArtifactMissingError(archivePath)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return apperrors.NewStorageError("failed to create extraction directory", err).
			WithContext("path", targetDir)
	}

	result, err := b.runner.Run(ctx, CommandSpec{
		Name: "tar",
		Args: []string{"-xzf", archivePath, "-C", targetDir},
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return apperrors.NewArchiveError("unpack", result.ExitCode, result.Stderr)
	}
	return nil
}
