// Package access provides access level types and resolution for database permissions.
package access

import "strings"

// Level represents the access level a user has to a database.
type Level int

const (
	// None means the user cannot see or access the database.
	None Level = iota
	// ReadOnly allows browsing tables, viewing structure, and read-only statements.
	ReadOnly
	// ReadWrite also allows data-changing statements and row deletion.
	ReadWrite
	// Admin also allows sync jobs and SFE imports.
	Admin
)

// String returns the string representation of the access level.
func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case Admin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into an access Level.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "no-access":
		return None
	case "read-only", "readonly", "ro":
		return ReadOnly
	case "read-write", "readwrite", "rw":
		return ReadWrite
	case "admin":
		return Admin
	default:
		return None
	}
}

// CanRead returns true if the level allows read operations.
func (l Level) CanRead() bool {
	return l >= ReadOnly
}

// CanWrite returns true if the level allows write operations.
func (l Level) CanWrite() bool {
	return l >= ReadWrite
}

// CanAdmin returns true if the level allows admin operations.
func (l Level) CanAdmin() bool {
	return l >= Admin
}

// CanExport returns true if the level allows exporting table data.
// Anyone with read access can export since they can already see all the data.
func (l Level) CanExport() bool {
	return l >= ReadOnly
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	return nil
}
