package engine

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"repo-backup/src/engine/config"
)

// ErrNotRunning is returned when a repository is deployed on an engine that
// was not started or was already shut down.
const ErrNotRunning = errors.ConstError("engine not running")

// Engine is a narrow interface over a content repository engine.
// Keep it small and focused on what the orchestrator needs so it stays fakeable.
type Engine interface {
	Start() error
	Deploy(cfg *config.Repository) (Repository, error)
	Shutdown() error
}

// Repository is a deployed repository owned by an Engine.
type Repository interface {
	Name() string
	// StartupProblems reports what the repository noticed while starting.
	// The list is advisory.
	StartupProblems() Problems
	Login(creds Credentials) (Session, error)
}

// Session is a logged-in handle on a repository.
type Session interface {
	Manager() (Manager, error)
	Logout()
}

// Manager exposes the administrative operations of a repository.
type Manager interface {
	BackupRepository(dir string, opts BackupOptions) (Problems, error)
	RestoreRepository(dir string) (Problems, error)
}

// Credentials identify the user logging in. The zero value is an anonymous login.
type Credentials struct {
	Username string
	Password string
}

// Anonymous reports whether no username was given.
func (c Credentials) Anonymous() bool { return c.Username == "" }

// DefaultDocumentsPerFile bounds the node documents written to a single backup file.
const DefaultDocumentsPerFile = 100000

// BackupOptions controls what a backup writes.
type BackupOptions struct {
	IncludeBinaries  bool
	DocumentsPerFile int
}

// DefaultBackupOptions includes binaries.
func DefaultBackupOptions() BackupOptions {
	return BackupOptions{IncludeBinaries: true, DocumentsPerFile: DefaultDocumentsPerFile}
}

// ExcludeBinaries returns the default options with binary content left out.
func ExcludeBinaries() BackupOptions {
	opts := DefaultBackupOptions()
	opts.IncludeBinaries = false
	return opts
}

// Severity of a reported problem.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Problem is a single entry of a problem report.
type Problem struct {
	Severity Severity
	Message  string
}

// Problems is an ordered problem report.
type Problems []Problem

// Errorf appends an error entry.
func (p *Problems) Errorf(format string, args ...any) {
	*p = append(*p, Problem{Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

// Warningf appends a warning entry.
func (p *Problems) Warningf(format string, args ...any) {
	*p = append(*p, Problem{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any entry has error severity.
func (p Problems) HasErrors() bool {
	for _, pr := range p {
		if pr.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Messages returns the messages in report order.
func (p Problems) Messages() []string {
	out := make([]string, 0, len(p))
	for _, pr := range p {
		out = append(out, pr.Message)
	}
	return out
}

func (p Problems) String() string {
	return strings.Join(p.Messages(), "; ")
}

// RepositoryError is a failure reported by the repository itself, as opposed to
// a programming or environment error around it.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// NewRepositoryError wraps err as a repository failure of op.
func NewRepositoryError(op string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Err: err}
}
