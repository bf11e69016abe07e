package store

import (
	"github.com/xtxerr/procrank/internal/errors"
)

var (
	ErrNotFound        = errors.ErrNotFound
	ErrSegmentNotFound = errors.ErrSegmentNotFound
	ErrStoreClosed     = errors.ErrStoreClosed
	ErrDatabase        = errors.ErrDatabase
)
