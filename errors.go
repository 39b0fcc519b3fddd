package audit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Only the query and export paths surface errors to callers;
// ingestion swallows and logs everything.
var (
	ErrMissingField        = errors.New("audit: missing required field")
	ErrInvalidFilter       = errors.New("audit: invalid filter")
	ErrExportRangeExceeded = errors.New("audit: export date range exceeds maximum")
	ErrForbidden           = errors.New("audit: forbidden")
	ErrRateLimited         = errors.New("audit: rate limited")
	ErrNotFound            = errors.New("audit: event not found")
	ErrPurgeInProgress     = errors.New("audit: purge already running")
	ErrQueueClosed         = errors.New("audit: queue closed")
	ErrCircuitOpen         = errors.New("audit: storage circuit open")
)

// FilterError describes which filter field was rejected.
type FilterError struct {
	Field  string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("audit: invalid filter %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidFilter) match.
func (e *FilterError) Is(target error) bool { return target == ErrInvalidFilter }

// RateLimitError is returned when a caller exceeds the export rate.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("audit: rate limited, retry after %s", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RangeError reports a requested export range wider than allowed.
type RangeError struct {
	Requested time.Duration
	Max       time.Duration
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("audit: export range %s exceeds maximum %s", e.Requested, e.Max)
}

// Is makes errors.Is(err, ErrExportRangeExceeded) match.
func (e *RangeError) Is(target error) bool { return target == ErrExportRangeExceeded }
