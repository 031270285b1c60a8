package api

import (
	"errors"
	"net/http"

	"querygate/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		notFound     *domain.NotFoundError
		forbidden    *domain.ForbiddenError
		accessDenied *domain.AccessDeniedError
		validation   *domain.ValidationError
		concurrency  *domain.ConcurrencyLimitError
		notReady     *domain.NotReadyError
		expired      *domain.ExpiredError
		invalidToken *domain.InvalidPageTokenError
		noCredential *domain.CredentialNotFoundError
		noDriver     *domain.DriverUnavailableError
	)

	switch {
	case errors.As(err, &notFound), errors.As(err, &noCredential):
		return http.StatusNotFound
	case errors.As(err, &forbidden), errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation), errors.As(err, &invalidToken):
		return http.StatusBadRequest
	case errors.As(err, &concurrency):
		return http.StatusTooManyRequests
	case errors.As(err, &notReady):
		return http.StatusConflict
	case errors.As(err, &expired):
		return http.StatusGone
	case errors.As(err, &noDriver):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
