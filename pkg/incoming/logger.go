// Package incoming appends one line per received DICOM transfer to a log file.
package incoming

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"

	"dicomvol/internal/logging"
	"dicomvol/pkg/dicomio"
)

// timeLayout matches the timestamp of the historic incoming_data.log
const timeLayout = "2006-01-02 15:04:05.000000"

// Transfer describes one association that delivered files into Path
type Transfer struct {
	CallingIP      string
	CallingAETitle string
	CalledAETitle  string
	Path           string
}

// Logger writes transfer records
type Logger struct {
	mu       sync.Mutex
	w        io.Writer
	identify dicomio.IdentifyFunc
	now      func() time.Time
	logger   *slog.Logger
}

// NewLogger returns a logger appending to w. A nil identify uses dicomio.Identify.
func NewLogger(w io.Writer, identify dicomio.IdentifyFunc, logger *slog.Logger) *Logger {
	if identify == nil {
		identify = dicomio.Identify
	}
	return &Logger{w: w, identify: identify, now: time.Now, logger: logging.OrDefault(logger)}
}

// NewFileLogger appends to file, rotated once it exceeds maxSizeMB
func NewFileLogger(file string, maxSizeMB, maxAgeDays int, logger *slog.Logger) (*Logger, io.Closer) {
	l := &lumberjack.Logger{
		Filename: file,
		MaxSize:  maxSizeMB,  // megabytes
		MaxAge:   maxAgeDays, // days
	}
	return NewLogger(l, nil, logger), l
}

// FirstIdentity walks path and returns the identity of the first file that has one.
func (l *Logger) FirstIdentity(path string) (dicomio.Identity, bool) {
	var (
		id    dicomio.Identity
		found bool
	)
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		got, err := l.identify(p)
		if err != nil {
			l.logger.Debug("error reading file", "path", p, "error", err)
			return nil
		}
		id, found = got, true
		return fs.SkipAll
	})
	return id, found
}

// Format renders a transfer record line
func Format(at time.Time, t Transfer, id dicomio.Identity) string {
	return fmt.Sprintf("%s: callingIP=%s, callingAETitle=%s, calledAETitle=%s PatientID=%q StudyInstanceUID=%s SeriesInstanceUID=%s\n",
		at.Format(timeLayout), t.CallingIP, t.CallingAETitle, t.CalledAETitle,
		id.PatientID, id.StudyInstanceUID, id.SeriesInstanceUID)
}

// Record appends a line for t. When no file below t.Path can be identified
// the line is still written with empty identifiers.
func (l *Logger) Record(t Transfer) error {
	id, found := l.FirstIdentity(t.Path)
	if !found {
		l.logger.Warn("no identifiable DICOM file in transfer", "path", t.Path)
	}

	line := Format(l.now(), t, id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, line); err != nil {
		return fmt.Errorf("write incoming log: %w", err)
	}
	return nil
}
