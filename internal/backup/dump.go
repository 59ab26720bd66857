package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"crm-datakeeper/internal/config"
	apperrors "crm-datakeeper/internal/errors"
	"crm-datakeeper/internal/logging"
)

// DumpEngine produces and consumes engine-native database dump artifacts,
// dispatching to the appropriate external database client. On success, Dump
// leaves a complete dump at the output path sufficient for Restore.
type DumpEngine struct {
	runner CommandRunner
	logger *logging.Logger
}

// NewDumpEngine creates a new dump engine.
func NewDumpEngine(runner CommandRunner, logger *logging.Logger) *DumpEngine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &DumpEngine{runner: runner, logger: logger}
}

// Dump writes a database dump to outputPath.
func (e *DumpEngine) Dump(ctx context.Context, conn *config.DatabaseConfig, outputPath string) error {
	switch conn.Driver {
	case "mysql", "mariadb":
		return e.runDump(ctx, CommandSpec{
			Name: "mysqldump",
			Args: []string{
				"--host=" + conn.Host,
				"--port=" + strconv.Itoa(conn.Port),
				"--user=" + conn.Username,
				"--single-transaction",
				"--routines",
				"--triggers",
				conn.Database,
			},
			Env:        []string{"MYSQL_PWD=" + conn.Password},
			StdoutFile: outputPath,
		})
	case "postgres":
		return e.runDump(ctx, CommandSpec{
			Name: "pg_dump",
			Args: []string{
				"--host=" + conn.Host,
				"--port=" + strconv.Itoa(conn.Port),
				"--username=" + conn.Username,
				"--no-password",
				conn.Database,
			},
			Env:        []string{"PGPASSWORD=" + conn.Password},
			StdoutFile: outputPath,
		})
	case "sqlite":
		if _, err := os.Stat(conn.Path); err != nil {
			return apperrors.NewArtifactMissingError(conn.Path)
		}
		if err := copyFile(conn.Path, outputPath); err != nil {
			return apperrors.NewStorageError("failed to copy sqlite database file", err)
		}
		return nil
	default:
		return apperrors.NewUnsupportedDriverError(conn.Driver)
	}
}

// Restore loads a dump back into the database. For the file-based sqlite
// driver, the live database file is snapshotted with a timestamp suffix
// before being overwritten.
func (e *DumpEngine) Restore(ctx context.Context, conn *config.DatabaseConfig, dumpPath string) error {
	if _, err := os.Stat(dumpPath); err != nil {
		return apperrors.NewArtifactMissingError(dumpPath)
	}

	switch conn.Driver {
	case "mysql", "mariadb":
		return e.runDump(ctx, CommandSpec{
			Name: "mysql",
			Args: []string{
				"--host=" + conn.Host,
				"--port=" + strconv.Itoa(conn.Port),
				"--user=" + conn.Username,
				conn.Database,
			},
			Env:       []string{"MYSQL_PWD=" + conn.Password},
			StdinFile: dumpPath,
		})
	case "postgres":
		return e.runDump(ctx, CommandSpec{
			Name: "psql",
			Args: []string{
				"--host=" + conn.Host,
				"--port=" + strconv.Itoa(conn.Port),
				"--username=" + conn.Username,
				"--no-password",
				"--quiet",
				conn.Database,
			},
			Env:       []string{"PGPASSWORD=" + conn.Password},
			StdinFile: dumpPath,
		})
	case "sqlite":
		if _, err := os.Stat(conn.Path); err == nil {
			snapshot := fmt.Sprintf("%s.%s.bak", conn.Path, time.Now().Format("20060102T150405"))
			if err := copyFile(conn.Path, snapshot); err != nil {
				return apperrors.NewStorageError("failed to snapshot live database file", err)
			}
			e.logger.Infof("Snapshotted live database to %s", snapshot)
		}
		if err := copyFile(dumpPath, conn.Path); err != nil {
			return apperrors.NewStorageError("failed to restore sqlite database file", err)
		}
		return nil
	default:
		return apperrors.NewUnsupportedDriverError(conn.Driver)
	}
}

func (e *DumpEngine) runDump(ctx context.Context, spec CommandSpec) error {
	result, err := e.runner.Run(ctx, spec)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return apperrors.NewProcessError(spec.Name, result.ExitCode, result.Stderr)
	}
	return nil
}

// copyFile copies a regular file preserving its mode.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
