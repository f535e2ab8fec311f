// Package result defines the outcome record passed between job entries and
// returned by transformations.
package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/vk/hopgrid/internal/row"
)

// FileType tags a result file with the role it played in the run.
type FileType int

const (
	FileGeneral FileType = iota
	FileLog
	FileErrorLine
	FileError
	FileWarning
)

var fileTypeNames = []string{"GENERAL", "LOG", "ERRORLINE", "ERROR", "WARNING"}

func (t FileType) String() string {
	if int(t) >= 0 && int(t) < len(fileTypeNames) {
		return fileTypeNames[t]
	}
	return fmt.Sprintf("FileType(%d)", int(t))
}

// ParseFileType resolves a case-insensitive file type name.
func ParseFileType(s string) (FileType, error) {
	for i, name := range fileTypeNames {
		if strings.EqualFold(name, s) {
			return FileType(i), nil
		}
	}
	return FileGeneral, fmt.Errorf("unknown result file type %q", s)
}

// File is a file produced or touched during a run.
type File struct {
	Type      FileType
	Path      string
	Origin    string
	Comment   string
	Timestamp time.Time
}

// Row is a row handed back to the calling job together with its meta.
type Row struct {
	Meta *row.Meta
	Row  row.Row
}

// Lines aggregates the row counters of a run.
type Lines struct {
	Read     int64
	Written  int64
	Input    int64
	Output   int64
	Updated  int64
	Rejected int64
	Deleted  int64
}

func (l *Lines) add(o Lines) {
	l.Read += o.Read
	l.Written += o.Written
	l.Input += o.Input
	l.Output += o.Output
	l.Updated += o.Updated
	l.Rejected += o.Rejected
	l.Deleted += o.Deleted
}

// Result is the outcome of a job entry, a job or a transformation.
type Result struct {
	// Nr is the entry number within the job that produced this result.
	Nr       int
	Success  bool
	NrErrors int64
	Stopped  bool
	Lines    Lines
	Rows     []Row
	// Files is keyed by Path.
	Files map[string]File
	// ExitStatus is nil unless an entry set an explicit process exit code.
	ExitStatus *int
	// LogChannelID identifies the run that produced the result.
	LogChannelID string
}

// New returns an empty, successful result.
func New() *Result {
	return &Result{Success: true, Files: make(map[string]File)}
}

// Clone returns a deep copy: rows and files can be modified independently.
func (r *Result) Clone() *Result {
	c := *r
	c.Rows = make([]Row, len(r.Rows))
	for i, rr := range r.Rows {
		c.Rows[i] = Row{Meta: rr.Meta, Row: rr.Row.Clone()}
	}
	c.Files = make(map[string]File, len(r.Files))
	for k, f := range r.Files {
		c.Files[k] = f
	}
	if r.ExitStatus != nil {
		code := *r.ExitStatus
		c.ExitStatus = &code
	}
	return &c
}

// Add merges other into r: counters and errors are summed, rows appended and
// files merged. A merged error count above zero makes r unsuccessful.
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.Lines.add(other.Lines)
	r.NrErrors += other.NrErrors
	r.Rows = append(r.Rows, other.Rows...)
	if r.Files == nil {
		r.Files = make(map[string]File, len(other.Files))
	}
	for k, f := range other.Files {
		r.Files[k] = f
	}
	if other.ExitStatus != nil {
		code := *other.ExitStatus
		r.ExitStatus = &code
	}
	r.Stopped = r.Stopped || other.Stopped
	if !other.Success || r.NrErrors > 0 {
		r.Success = false
	}
}

// AddRow appends a result row.
func (r *Result) AddRow(meta *row.Meta, values row.Row) {
	r.Rows = append(r.Rows, Row{Meta: meta, Row: values})
}

// AddFile records a result file, replacing any earlier entry for the path.
func (r *Result) AddFile(f File) {
	if r.Files == nil {
		r.Files = make(map[string]File)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	r.Files[f.Path] = f
}

// FilesOfType returns the files with the given type.
func (r *Result) FilesOfType(t FileType) []File {
	var out []File
	for _, f := range r.Files {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// Fail marks the result unsuccessful with n additional errors.
func (r *Result) Fail(n int64) {
	r.Success = false
	r.NrErrors += n
}

// SetExitStatus records an explicit process exit code.
func (r *Result) SetExitStatus(code int) {
	r.ExitStatus = &code
}
