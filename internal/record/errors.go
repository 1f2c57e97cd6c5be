package record

import (
	"errors"
	"fmt"
)

// PersistenceError reports a failure to read or write the record document.
//
// At startup a PersistenceError is fatal: the bot refuses to run with a
// record file it cannot understand. Later flush failures are reported to the
// caller, who keeps the in-memory state and retries on the next mutation.
type PersistenceError struct {
	Op   string // "load" or "persist"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("record %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError returns true if err wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
