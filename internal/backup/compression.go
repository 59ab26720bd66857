package backup

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "crm-datakeeper/internal/errors"
)

// CompressionType selects a dump compression algorithm.
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
	CompressionLZ4  CompressionType = "lz4"
)

// Extension returns the file suffix for the algorithm ("" for none).
func (t CompressionType) Extension() string {
	switch t {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Compressor wraps a writer/reader pair for one algorithm.
type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	Type() CompressionType
}

// CompressionManager compresses and decompresses dump artifacts on disk.
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with all supported algorithms registered.
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionGzip] = &gzipCompressor{}
	cm.compressors[CompressionZstd] = &zstdCompressor{}
	cm.compressors[CompressionLZ4] = &lz4Compressor{}

	return cm
}

// CompressFile compresses sourcePath into sourcePath+ext and removes the
// original. Returns the compressed path. CompressionNone is a no-op.
func (cm *CompressionManager) CompressFile(sourcePath string, algorithm CompressionType) (string, error) {
	if algorithm == CompressionNone {
		return sourcePath, nil
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return "", apperrors.NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	targetPath := sourcePath + algorithm.Extension()

	in, err := os.Open(sourcePath)
	if err != nil {
		return "", apperrors.NewStorageError("failed to open file for compression", err)
	}
	defer in.Close()

	out, err := os.Create(targetPath)
	if err != nil {
		return "", apperrors.NewStorageError("failed to create compressed file", err)
	}
	defer out.Close()

	writer, err := compressor.NewWriter(out)
	if err != nil {
		return "", apperrors.NewStorageError("failed to create compression writer", err)
	}

	if _, err := io.Copy(writer, in); err != nil {
		writer.Close()
		return "", apperrors.NewStorageError("failed to compress file", err)
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.NewStorageError("failed to finalize compressed file", err)
	}

	in.Close()
	if err := os.Remove(sourcePath); err != nil {
		return "", apperrors.NewStorageError("failed to remove uncompressed file", err)
	}

	return targetPath, nil
}

// DecompressFile decompresses sourcePath (algorithm detected by extension)
// into targetPath. When the source carries no known compression extension it
// is copied as-is.
func (cm *CompressionManager) DecompressFile(sourcePath, targetPath string) error {
	algorithm := DetectCompression(sourcePath)
	if algorithm == CompressionNone {
		return copyFile(sourcePath, targetPath)
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return apperrors.NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	in, err := os.Open(sourcePath)
	if err != nil {
		return apperrors.NewStorageError("failed to open compressed file", err)
	}
	defer in.Close()

	reader, err := compressor.NewReader(in)
	if err != nil {
		return apperrors.NewStorageError("failed to create decompression reader", err)
	}
	defer reader.Close()

	out, err := os.Create(targetPath)
	if err != nil {
		return apperrors.NewStorageError("failed to create decompressed file", err)
	}

	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return apperrors.NewStorageError("failed to decompress file", err)
	}
	return out.Close()
}

// DetectCompression infers the compression algorithm from a file extension.
func DetectCompression(path string) CompressionType {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	case strings.HasSuffix(path, ".lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

type gzipCompressor struct{}

func (c *gzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.DefaultCompression)
}

func (c *gzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func (c *gzipCompressor) Type() CompressionType { return CompressionGzip }

type zstdCompressor struct{}

func (c *zstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func (c *zstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

func (c *zstdCompressor) Type() CompressionType { return CompressionZstd }

type lz4Compressor struct{}

func (c *lz4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (c *lz4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (c *lz4Compressor) Type() CompressionType { return CompressionLZ4 }
