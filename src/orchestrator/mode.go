package orchestrator

import (
	"fmt"
	"strings"
)

// Mode selects the single operation a run performs.
type Mode int

const (
	Backup Mode = iota
	Restore
)

func (m Mode) String() string {
	switch m {
	case Backup:
		return "backup"
	case Restore:
		return "restore"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "b" or "r" in either case.
func ParseMode(s string) (Mode, error) {
	switch {
	case strings.EqualFold(s, "b"):
		return Backup, nil
	case strings.EqualFold(s, "r"):
		return Restore, nil
	}
	return 0, fmt.Errorf("invalid mode %q: expected 'b' or 'r'", s)
}
