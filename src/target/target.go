package target

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Target is a parsed backup directory argument.
// Accepted forms: /mnt/backups/repo, ./backups, dir:/mnt/backups/repo
type Target struct {
	// Raw is the original input string.
	Raw string
	// Scheme is the backend scheme; only "dir" exists.
	Scheme string
	// DirPath is the cleaned absolute directory.
	DirPath string
}

// SchemeDir is the only supported scheme and the default for bare paths.
const SchemeDir = "dir"

// SupportedSchemes lists the schemes the parser accepts.
var SupportedSchemes = map[string]struct{}{
	SchemeDir: {},
}

// Parse resolves raw into an absolute directory. Relative paths are taken
// from the working directory. The directory does not have to exist.
func Parse(raw string) (Target, error) {
	t := Target{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return t, fmt.Errorf("backup directory must not be empty")
	}
	val := s
	if scheme, rest, ok := splitScheme(s); ok {
		if !IsSupported(scheme) {
			return t, fmt.Errorf("unsupported backend scheme %q", scheme)
		}
		val = strings.TrimSpace(rest)
		if val == "" {
			return t, fmt.Errorf("directory target path must not be empty")
		}
	}
	abs, err := filepath.Abs(val)
	if err != nil {
		return t, fmt.Errorf("resolve backup directory %q: %w", val, err)
	}
	t.Scheme = SchemeDir
	t.DirPath = abs
	return t, nil
}

// splitScheme recognizes "<scheme>:<value>" where scheme is a letter followed
// by letters, digits, '+', '-' or '.'. Windows drive letters (C:\x) are not
// schemes.
func splitScheme(s string) (string, string, bool) {
	i := strings.Index(s, ":")
	if i <= 1 {
		return "", "", false
	}
	scheme := strings.ToLower(s[:i])
	for j, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z':
		case j > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return "", "", false
		}
	}
	return scheme, s[i+1:], true
}

// IsSupported returns true if the scheme is recognized.
func IsSupported(scheme string) bool {
	_, ok := SupportedSchemes[strings.ToLower(scheme)]
	return ok
}

// String returns a canonical string form of the target.
func (t Target) String() string {
	if t.DirPath != "" {
		return fmt.Sprintf("%s:%s", t.Scheme, t.DirPath)
	}
	return t.Raw
}
