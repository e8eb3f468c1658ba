package fetcher

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sabarim/stockharvest/internal/historical"
)

// ErrNoTable is returned by a Parser when the page carries no data table.
var ErrNoTable = errors.New("no data table in response")

// StatusError reports a non-200 response from the source
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// FetchError is returned when every attempt for a chunk failed
type FetchError struct {
	Chunk    historical.DateChunk
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.Chunk, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RowError describes a row that could not be converted into a record
type RowError struct {
	Index  int
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("row %d column %s %q: %v", e.Index, e.Column, e.Value, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
