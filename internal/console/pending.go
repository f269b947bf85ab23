package console

import (
	"strings"

	"github.com/johan-st/dbconsole/internal/backend"
)

// PendingSyncQuery counts users waiting to be synced.
const PendingSyncQuery = "select count(*) as cnt from us_user where sync_status=0"

// IsPendingSyncQuery reports whether sql reads the pending sync count:
// lower-cased with whitespace collapsed it mentions select count(*), us_user
// and sync_status=0.
func IsPendingSyncQuery(sql string) bool {
	normalized := strings.Join(strings.Fields(strings.ToLower(sql)), " ")
	return strings.Contains(normalized, "select count(*)") &&
		strings.Contains(normalized, "us_user") &&
		strings.Contains(normalized, "sync_status=0")
}

// FirstInt parses the first column of the first row as an integer.
func FirstInt(result *backend.Result) (int64, bool) {
	if result == nil || len(result.Rows) == 0 {
		return 0, false
	}
	values := result.Values(0)
	if len(values) == 0 {
		return 0, false
	}
	return backend.ParseInt(values[0])
}
