package backup

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-datakeeper/internal/errors"
)

func TestPackInvocation(t *testing.T) {
	dir := t.TempDir()
	runner := &mockRunner{}
	builder := NewArchiveBuilder(runner, testLogger())
	target := filepath.Join(dir, "out.tar.gz")

	require.NoError(t, builder.Pack(context.Background(), dir, target))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "tar", runner.calls[0].Name)
	assert.Equal(t, []string{"-czf", target, "-C", dir, "."}, runner.calls[0].Args)
}

func TestPackMissingSourceDir(t *testing.T) {
	builder := NewArchiveBuilder(&mockRunner{}, testLogger())

	err := builder.Pack(context.Background(),
		filepath.Join(t.TempDir(), "absent"), filepath.Join(t.TempDir(), "out.tar.gz"))

	require.Error(t, err)
	assert.True(t, apperrors.IsEngineError(err, apperrors.ErrTypeStorage))
}

func TestPackNonZeroExitBecomesArchiveError(t *testing.T) {
	runner := &mockRunner{results: []*CommandResult{{ExitCode: 2, Stderr: "tar: broken"}}}
	builder := NewArchiveBuilder(runner, testLogger())

	err := builder.Pack(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "out.tar.gz"))

	require.Error(t, err)
	require.True(t, apperrors.IsEngineError(err, apperrors.ErrTypeArchiveFailure))

	var engineErr *apperrors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, 2, engineErr.ExitCode())
}

func TestUnpackMissingArchive(t *testing.T) {
	builder := NewArchiveBuilder(&mockRunner{}, testLogger())

	err := builder.Unpack(context.Background(),
		filepath.Join(t.TempDir(), "absent.tar.gz"), t.TempDir())

	require.Error(t, err)
	assert.True(t, apperrors.IsEngineError(err, apperrors.ErrTypeArtifactMissing))
}

// Round trip through the real archiving utility.
func TestPackUnpackRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, ArchiveDumpName), []byte("-- dump\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(source, ArchiveFilesDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, ArchiveFilesDir, "a.txt"), []byte("alpha"), 0o644))

	builder := NewArchiveBuilder(NewExecRunner(testLogger()), testLogger())
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, builder.Pack(context.Background(), source, archive))

	extracted := filepath.Join(t.TempDir(), "extracted")
	require.NoError(t, builder.Unpack(context.Background(), archive, extracted))

	dump, err := os.ReadFile(filepath.Join(extracted, ArchiveDumpName))
	require.NoError(t, err)
	assert.Equal(t, "-- dump\n", string(dump))

	file, err := os.ReadFile(filepath.Join(extracted, ArchiveFilesDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(file))
}
