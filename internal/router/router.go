// Package router picks the database an ad hoc SQL statement should run against.
//
// Routing is a textual heuristic, not a parser: the first table named after a
// FROM or JOIN keyword is looked up in the table registry. Subqueries, CTE
// names, quoted identifiers and schema-qualified names are not understood.
package router

import (
	"regexp"
	"strings"

	"github.com/johan-st/dbconsole/internal/catalog"
)

var tableRef = regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_]*)\b`)

// Router resolves statements against a registry.
type Router struct {
	// PreferCurrent makes the current database win when it also holds the
	// anchor table. Otherwise the first database in registry order wins.
	PreferCurrent bool
}

// ExtractTables returns the lower-cased identifiers following FROM or JOIN,
// de-duplicated in order of first appearance.
func ExtractTables(sql string) []string {
	matches := tableRef.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[2])
		if seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// Resolve returns the database sql should run against, or current when no
// table reference matches the registry.
func Resolve(sql string, registry catalog.Snapshot, current string) string {
	return Router{}.Resolve(sql, registry, current)
}

// Resolve returns the database sql should run against, or current when no
// table reference matches the registry.
func (r Router) Resolve(sql string, registry catalog.Snapshot, current string) string {
	return r.Explain(sql, registry, current).Database
}

// Decision describes how a statement was routed.
type Decision struct {
	Database string
	Tables   []string
	Anchor   string
	Matched  bool
}

// Explain resolves sql and reports the tables and anchor it used.
func (r Router) Explain(sql string, registry catalog.Snapshot, current string) Decision {
	d := Decision{Database: current, Tables: ExtractTables(sql)}
	if len(d.Tables) == 0 {
		return d
	}
	d.Anchor = d.Tables[0]

	if r.PreferCurrent && current != "" && registry.Contains(current, d.Anchor) {
		d.Matched = true
		return d
	}

	for db, tables := range registry.All() {
		for _, t := range tables {
			if strings.EqualFold(t.Name, d.Anchor) {
				d.Database = db
				d.Matched = true
				return d
			}
		}
	}
	return d
}
