package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownToken  = errors.New("unknown token")
	ErrTokenExpired  = errors.New("token expired")
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNotFound is returned by a Store that holds no matching row.
	ErrNotFound = errors.New("token not found")
)

// QuotaError reports a rejected request together with the counts that caused it.
type QuotaError struct {
	Used int
	Max  int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %d/%d requests used", e.Used, e.Max)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}
