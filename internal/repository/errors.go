package repository

import "errors"

// ErrNotFound is returned when a mutation targets a record that does not exist.
var ErrNotFound = errors.New("record not found")
