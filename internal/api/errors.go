package api

import (
	"errors"
	"net/http"

	"pggatekeeper/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		notFound        *domain.NotFoundError
		validation      *domain.ValidationError
		conflict        *domain.ConflictError
		notActive       *domain.PrincipalNotActiveError
		alreadyRevealed *domain.AlreadyRevealedError
		dependent       *domain.DependentObjectsError
		unavailable     *domain.UnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &notActive):
		return http.StatusConflict
	case errors.As(err, &alreadyRevealed):
		return http.StatusGone
	case errors.As(err, &dependent):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	default:
		// Includes IntegrityError and KeyNotFoundError: internal faults whose
		// details stay out of client responses.
		return http.StatusInternalServerError
	}
}

// errorKind names the failure class for clients. Crypto faults keep their
// kind even though the message is scrubbed: a caller of DecryptPassword must
// be able to tell a missing key version from a failed authentication tag.
func errorKind(err error) string {
	var (
		notFound        *domain.NotFoundError
		validation      *domain.ValidationError
		conflict        *domain.ConflictError
		notActive       *domain.PrincipalNotActiveError
		alreadyRevealed *domain.AlreadyRevealedError
		dependent       *domain.DependentObjectsError
		unavailable     *domain.UnavailableError
		keyNotFound     *domain.KeyNotFoundError
		integrity       *domain.IntegrityError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &validation):
		return "invalid_request"
	case errors.As(err, &notActive):
		return "principal_not_active"
	case errors.As(err, &dependent):
		return "dependent_objects"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &alreadyRevealed):
		return "already_revealed"
	case errors.As(err, &unavailable):
		return "unavailable"
	case errors.As(err, &keyNotFound):
		return "key_not_found"
	case errors.As(err, &integrity):
		return "integrity_failure"
	default:
		return "internal"
	}
}

// errorMessage returns the client-facing message for err. Internal faults get
// a generic message so key versions and crypto details never leave the server.
func errorMessage(err error) string {
	if httpStatusFromDomainError(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
