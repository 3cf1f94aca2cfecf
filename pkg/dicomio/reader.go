package dicomio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"dicomvol/internal/logging"
	"dicomvol/internal/models"
)

// ErrEmptyInput is returned when a directory yields no readable image slices.
var ErrEmptyInput = errors.New("no valid DICOM image slices found")

// Reader loads every DICOM slice directly inside a directory
type Reader struct {
	decoder Decoder
	logger  *slog.Logger
}

// NewReader returns a reader using decoder; a nil decoder means DICOMDecoder.
func NewReader(decoder Decoder, logger *slog.Logger) *Reader {
	if decoder == nil {
		decoder = DICOMDecoder{}
	}
	return &Reader{decoder: decoder, logger: logging.OrDefault(logger)}
}

// ReadDir decodes the direct entries of dir in filename order. Entries that are
// not regular files, fail to parse, or carry no pixel data are skipped.
// The result preserves read order, which later decides the reference shape.
func (r *Reader) ReadDir(dir string) ([]*models.SliceRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var (
		slices  []*models.SliceRecord
		skipped int
		bytes   uint64
	)
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		// Stat follows symlinks so that linked files count as regular files
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			r.logger.Debug("skipping non-file entry", "path", path)
			skipped++
			continue
		}

		record, err := r.decoder.Decode(path)
		if err != nil {
			r.logger.Warn("skipping unreadable entry", "path", path, "error", err)
			skipped++
			continue
		}
		bytes += uint64(info.Size())
		slices = append(slices, record)
	}

	if len(slices) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrEmptyInput)
	}

	r.logger.Info("loaded slices",
		"dir", dir,
		"slices", len(slices),
		"skipped", skipped,
		"size", humanize.Bytes(bytes))
	return slices, nil
}
