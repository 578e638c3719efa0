package errutil

import "net/http"

// CoreStatus is the closed set of stable error codes returned verbatim in
// JSON bodies. Clients branch on the code, never on message text.
type CoreStatus string

const (
	StatusBadRequest       CoreStatus = "BAD_REQUEST"
	StatusValidationFailed CoreStatus = "VALIDATION_FAILED"
	StatusUnauthorized     CoreStatus = "UNAUTHORIZED"
	StatusForbidden        CoreStatus = "FORBIDDEN"
	StatusNotFound         CoreStatus = "NOT_FOUND"
	StatusConflict         CoreStatus = "CONFLICT"
	StatusTooManyRequests  CoreStatus = "RATE_LIMITED"
	StatusInternal         CoreStatus = "INTERNAL"
	StatusUnavailable      CoreStatus = "UNAVAILABLE"

	// License lifecycle denials.
	StatusLicenseExpired      CoreStatus = "LICENSE_EXPIRED"
	StatusLicenseRevoked      CoreStatus = "LICENSE_REVOKED"
	StatusLicenseBanned       CoreStatus = "LICENSE_BANNED"
	StatusLicenseSuspended    CoreStatus = "LICENSE_SUSPENDED"
	StatusDeviceLimitReached  CoreStatus = "DEVICE_LIMIT_REACHED"
	StatusInvalidTransition   CoreStatus = "INVALID_TRANSITION"
	StatusGenerationExhausted CoreStatus = "GENERATION_EXHAUSTED"
)

// HTTPStatus maps the code to its HTTP response status.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden, StatusLicenseExpired, StatusLicenseRevoked,
		StatusLicenseBanned, StatusLicenseSuspended:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict, StatusDeviceLimitReached:
		return http.StatusConflict
	case StatusInvalidTransition:
		return http.StatusUnprocessableEntity
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusUnavailable:
		return http.StatusServiceUnavailable
	case StatusGenerationExhausted, StatusInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may safely retry the failed request.
// Permanent denials (revoked, banned) must never be retried.
func (s CoreStatus) Retryable() bool {
	switch s {
	case StatusDeviceLimitReached, StatusTooManyRequests, StatusUnavailable, StatusInternal:
		return true
	default:
		return false
	}
}
