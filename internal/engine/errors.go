package engine

import (
	"errors"
	"strings"

	apperrors "github.com/aethra/domus/internal/errors"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// translate converts storage errors into typed application errors
func translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var ae apperrors.AppError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewNotFoundError(resource, id)
	}
	if isDuplicateKey(err) {
		return apperrors.NewConflictError(resource, "")
	}
	return apperrors.NewInternalError(err)
}

// isDuplicateKey recognizes unique violations from every supported driver:
// gorm's translated error, lib/pq's SQLSTATE 23505 and SQLite's message.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func validation(field, message string) error {
	return apperrors.NewValidationError(field, message)
}

func conflict(resource, message string) error {
	return apperrors.NewConflictError(resource, message)
}

func notFound(resource, id string) error {
	return apperrors.NewNotFoundError(resource, id)
}
