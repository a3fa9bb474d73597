package database

import (
	"errors"
	"fmt"
)

// ErrDatabaseNotFound is returned by Open when the file is missing and
// creation was not requested.
var ErrDatabaseNotFound = errors.New("database not found")

// StoreError reports a failed database operation. A frontier that gets a
// StoreError from its dedup store stops; other frontiers keep running.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
