package catalog

import (
	"iter"
	"strings"

	"github.com/johan-st/dbconsole/internal/backend"
)

// Entry is one database and its tables.
type Entry struct {
	Database string
	Tables   []backend.TableDescriptor
}

// Snapshot is an immutable view of the table registry.
// Iteration order is the database order reported by the backend.
type Snapshot struct {
	entries []Entry
}

// NewSnapshot builds a snapshot from entries in registry order.
// Later entries with a duplicate database name are ignored.
func NewSnapshot(entries ...Entry) Snapshot {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Database] {
			continue
		}
		seen[e.Database] = true
		tables := make([]backend.TableDescriptor, len(e.Tables))
		copy(tables, e.Tables)
		out = append(out, Entry{Database: e.Database, Tables: tables})
	}
	return Snapshot{entries: out}
}

// Len returns the number of databases.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Databases returns the database names in registry order.
func (s Snapshot) Databases() []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.Database
	}
	return names
}

// Has reports whether the database is present.
func (s Snapshot) Has(database string) bool {
	for _, e := range s.entries {
		if e.Database == database {
			return true
		}
	}
	return false
}

// Tables returns the tables of a database, or nil if absent.
func (s Snapshot) Tables(database string) []backend.TableDescriptor {
	for _, e := range s.entries {
		if e.Database == database {
			return e.Tables
		}
	}
	return nil
}

// All yields every database with its tables in registry order.
func (s Snapshot) All() iter.Seq2[string, []backend.TableDescriptor] {
	return func(yield func(string, []backend.TableDescriptor) bool) {
		for _, e := range s.entries {
			if !yield(e.Database, e.Tables) {
				return
			}
		}
	}
}

// Contains reports whether database has a table named table, ignoring case.
func (s Snapshot) Contains(database, table string) bool {
	for _, t := range s.Tables(database) {
		if strings.EqualFold(t.Name, table) {
			return true
		}
	}
	return false
}

// Filter returns a snapshot holding only the databases keep accepts.
func (s Snapshot) Filter(keep func(database string) bool) Snapshot {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e.Database) {
			out = append(out, e)
		}
	}
	return Snapshot{entries: out}
}

// First returns the first database name, or "" for an empty registry.
func (s Snapshot) First() string {
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[0].Database
}
