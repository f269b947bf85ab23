package console

import (
	"errors"
	"fmt"

	"github.com/johan-st/dbconsole/internal/access"
)

var (
	// ErrEmptyQuery is returned for a blank statement.
	ErrEmptyQuery = errors.New("empty query")
	// ErrNoDatabase is returned when a statement routes nowhere and no
	// database is selected.
	ErrNoDatabase = errors.New("no database selected")
	// ErrSuperseded is returned to an execution whose result was dropped
	// because a newer one started or it was cancelled.
	ErrSuperseded = errors.New("execution superseded")
)

// AccessError is returned when the user's level does not allow an action.
type AccessError struct {
	User     string
	Database string
	Action   string
	Level    access.Level
}

func (e *AccessError) Error() string {
	if e.Database == "" {
		return fmt.Sprintf("access denied: %s cannot %s (level %s)", e.User, e.Action, e.Level)
	}
	return fmt.Sprintf("access denied: %s cannot %s on %s (level %s)", e.User, e.Action, e.Database, e.Level)
}

// IsAccessDenied reports whether err is an *AccessError.
func IsAccessDenied(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}
