package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/carebridge/accountsec/internal/models"
)

// domainErrors are answers, not storage trouble, and are never retried.
var domainErrors = []error{
	models.ErrNotFound,
	models.ErrConflict,
	models.ErrSessionNotFound,
	models.ErrValidation,
	models.ErrMismatch,
	models.ErrExpired,
	models.ErrAttemptsExhausted,
	models.ErrRateLimited,
	models.ErrBadRequest,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// retryRead runs read, and once more if it failed with a storage error.
func retryRead[T any](ctx context.Context, read func() (T, error)) (T, error) {
	v, err := read()
	if err == nil || isDomainError(err) || ctx.Err() != nil {
		return v, err
	}
	return read()
}

// persistenceError tags an unexpected storage failure with ErrPersistence.
func persistenceError(op string, err error) error {
	if err == nil || isDomainError(err) || errors.Is(err, models.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistence, err)
}
