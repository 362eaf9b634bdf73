package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// DefaultMaxLogBytes is the size at which a log file is archived.
const DefaultMaxLogBytes int64 = 1 << 20

// archiveSuffixFormat is appended to a rotated log's base name.
const archiveSuffixFormat = "20060102_150405"

// RotatingFile is an append-only log file that archives itself once it grows
// past a byte threshold: the file is renamed with a timestamp suffix and an
// empty file takes its place.
type RotatingFile struct {
	path     string
	maxBytes int64
	now      func() time.Time

	mu   sync.Mutex
	f    *os.File
	size int64
}

// OpenRotatingFile opens (or creates) the log at path.
func OpenRotatingFile(path string, maxBytes int64) (*RotatingFile, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLogBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	rf := &RotatingFile{path: path, maxBytes: maxBytes, now: time.Now}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rf.f = f
	rf.size = info.Size()
	return nil
}

// Write appends p, archiving the file afterwards if it crossed the threshold.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	n, err := rf.f.Write(p)
	rf.size += int64(n)
	if err != nil {
		return n, err
	}
	if rf.size > rf.maxBytes {
		if _, err := rf.rotateLocked(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// RotateIfNeeded archives the file if it is over the threshold. It returns the
// archive path, or "" when nothing was rotated.
func (rf *RotatingFile) RotateIfNeeded() (string, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	// Another process may have written to the same file.
	if info, err := os.Stat(rf.path); err == nil {
		rf.size = info.Size()
	}
	if rf.size <= rf.maxBytes {
		return "", nil
	}
	return rf.rotateLocked()
}

func (rf *RotatingFile) rotateLocked() (string, error) {
	if err := rf.f.Close(); err != nil {
		return "", fmt.Errorf("closing log before rotation: %w", err)
	}
	archive, err := archiveFile(rf.path, rf.now())
	if err != nil {
		// Keep logging into the oversized file rather than losing lines.
		if oerr := rf.open(); oerr != nil {
			return "", oerr
		}
		return "", err
	}
	if err := rf.open(); err != nil {
		return "", err
	}
	return archive, nil
}

// Path returns the live log path.
func (rf *RotatingFile) Path() string {
	return rf.path
}

// Close closes the underlying file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.f.Close()
}

// RotateFile archives the log at path if it is larger than maxBytes and
// recreates it empty. It returns the archive path, or "" if the file was
// small enough or missing.
func RotateFile(path string, maxBytes int64, now time.Time) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() <= maxBytes {
		return "", nil
	}
	archive, err := archiveFile(path, now)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return archive, fmt.Errorf("recreating %s: %w", path, err)
	}
	return archive, f.Close()
}

// archiveFile renames path to <base>_<timestamp><ext>, choosing a numbered
// variant if that name is taken.
func archiveFile(path string, now time.Time) (string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	stamp := now.Format(archiveSuffixFormat)
	archive := base + "_" + stamp + ext
	for i := 1; ; i++ {
		if _, err := os.Stat(archive); os.IsNotExist(err) {
			break
		}
		archive = fmt.Sprintf("%s_%s_%d%s", base, stamp, i, ext)
	}
	if err := os.Rename(path, archive); err != nil {
		return "", fmt.Errorf("archiving %s: %w", path, err)
	}
	return archive, nil
}

// ActivityLogOptions configures NewActivityLogger.
type ActivityLogOptions struct {
	Path     string
	Level    string
	MaxBytes int64
	// Console, when set, mirrors every line (e.g. to stderr).
	Console io.Writer
}

// NewActivityLogger returns a zerolog logger writing human-readable lines
// (timestamp, level, component, message, fields) to a rotating file.
func NewActivityLogger(opts ActivityLogOptions) (zerolog.Logger, *RotatingFile, error) {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	rf, err := OpenRotatingFile(opts.Path, opts.MaxBytes)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	writers := []io.Writer{consoleWriter(rf, true)}
	if opts.Console != nil {
		writers = append(writers, consoleWriter(opts.Console, false))
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Logger().
		Level(lvl)
	return l, rf, nil
}

func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       noColor,
		TimeFormat:    "2006-01-02 15:04:05",
		PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, ComponentField, zerolog.MessageFieldName},
		FieldsExclude: []string{ComponentField},
	}
}

// ComponentField is the field carrying the component tag of a log line.
const ComponentField = "cmp"

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(ComponentField, name).Logger()
}

// DescribeRotation renders a short message for an archived log.
func DescribeRotation(archive string, size int64) string {
	return fmt.Sprintf("archived %s (%s)", filepath.Base(archive), humanize.IBytes(uint64(size)))
}
