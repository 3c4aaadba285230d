package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	reportPrefix = "accessibility-report-"
	reportExt    = ".json"
)

// ReportInfo describes a stored report.
type ReportInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// Archiver writes audit records as JSON documents under a directory.
type Archiver struct {
	dir string
	now func() time.Time
}

func NewArchiver(dir string) *Archiver {
	return &Archiver{dir: dir, now: time.Now}
}

func (a *Archiver) Dir() string { return a.dir }

// maxNameAttempts bounds the nanosecond offsets tried when a report name is
// taken. Offsets stay below a millisecond, the record timestamp's precision.
const maxNameAttempts = 1000

// Archive writes rec to a new file named after rec.Timestamp in nanoseconds
// (the current time when the record has none). A taken name is never
// overwritten; the next free nanosecond is used instead.
func (a *Archiver) Archive(rec *AuditRecord) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", &PersistenceError{Err: err}
	}

	stamp := rec.Timestamp
	if stamp.IsZero() {
		stamp = a.now()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", &PersistenceError{Path: a.reportPath(stamp.UnixNano()), Err: err}
	}

	var (
		f    *os.File
		path string
	)
	for i := int64(0); i < maxNameAttempts; i++ {
		path = a.reportPath(stamp.UnixNano() + i)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", &PersistenceError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	return path, nil
}

func (a *Archiver) reportPath(nanos int64) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s%d%s", reportPrefix, nanos, reportExt))
}

// Load reads a stored report. A bare file name is looked up in the archive directory.
func (a *Archiver) Load(path string) (*AuditRecord, error) {
	if filepath.Base(path) == path {
		path = filepath.Join(a.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &rec, nil
}

// List returns stored reports, newest first. A missing directory is an empty archive.
func (a *Archiver) List() ([]ReportInfo, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ReportInfo{}, nil
		}
		return nil, err
	}

	reports := make([]ReportInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, reportPrefix) || !strings.HasSuffix(name, reportExt) {
			continue
		}
		stamp, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, reportPrefix), reportExt), 10, 64)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		reports = append(reports, ReportInfo{
			Name:      name,
			Path:      filepath.Join(a.dir, name),
			CreatedAt: time.Unix(0, stamp).UTC(),
			Size:      info.Size(),
		})
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	return reports, nil
}
