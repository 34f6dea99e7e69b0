package deadletter

import "errors"

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("deadletter: entry not found")
