package links

import (
	"errors"
	"fmt"
)

// Reasons a page or candidate gets skipped. None of them stop a run.
var (
	ErrTransport        = errors.New("transport failure")
	ErrHTTPStatus       = errors.New("unexpected http status")
	ErrContentAbsent    = errors.New("content no longer available")
	ErrDeadlineExceeded = errors.New("time budget exhausted")
)

// StatusError carries the status code of a non-success response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Is lets errors.Is(err, ErrHTTPStatus) match any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}
