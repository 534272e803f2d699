package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrJobNotRunning     = errors.New("job not running")
	ErrNotReady          = errors.New("job output not ready")
	ErrOutputMissing     = errors.New("job output missing")
	ErrInvalidInput      = errors.New("invalid input")
	ErrFileTooLarge      = errors.New("file too large")
)

// PageError は特定ページの処理失敗です。Page は0始まりです。
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page+1, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}
