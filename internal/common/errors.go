package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("requested resource not found")
	ErrPrediction     = errors.New("prediction failed")
	ErrLockNotHeld    = errors.New("failed to acquire lock")
)

// Error kinds reported to clients in the "type" field.
const (
	KindInvalidPayload = "InvalidPayloadError"
	KindForbidden      = "ForbiddenError"
	KindNotFound       = "NotFoundError"
	KindPrediction     = "PredictionError"
	KindInternal       = "InternalError"
)

// DomainError carries a client-facing message and wraps one of the sentinels.
type DomainError struct {
	Message string
	Kind    error
}

func (e *DomainError) Error() string { return e.Message }

func (e *DomainError) Unwrap() error { return e.Kind }

func InvalidPayload(format string, args ...interface{}) error {
	return &DomainError{Message: fmt.Sprintf(format, args...), Kind: ErrInvalidPayload}
}

func Forbidden(format string, args ...interface{}) error {
	return &DomainError{Message: fmt.Sprintf(format, args...), Kind: ErrForbidden}
}

func NotFound(format string, args ...interface{}) error {
	return &DomainError{Message: fmt.Sprintf(format, args...), Kind: ErrNotFound}
}

func PredictionFailed(format string, args ...interface{}) error {
	return &DomainError{Message: fmt.Sprintf(format, args...), Kind: ErrPrediction}
}

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPrediction):
		return http.StatusInternalServerError
	}
	if IsUniqueViolation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// KindFromError is the "type" tag of the JSON error body.
func KindFromError(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPayload), IsUniqueViolation(err):
		return KindInvalidPayload
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPrediction):
		return KindPrediction
	}
	return KindInternal
}

// IsUniqueViolation reports a Postgres unique constraint failure from either driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
