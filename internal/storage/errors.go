package storage

import "errors"

// ErrNoRun is returned when an account has no stored reconciliation run.
var ErrNoRun = errors.New("no reconciliation run found")
