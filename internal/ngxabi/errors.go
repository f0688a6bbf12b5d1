package ngxabi

import "errors"

// The four error kinds in the ABI's error-handling taxonomy. Components return
// these (wrapped with context via fmt.Errorf("...: %w", ...)) and the
// facade's ToStatus classifies them at the ABI boundary.

// InvalidArgumentError: null pointer, zero size, unknown name.
type InvalidArgumentError struct{ Msg string }

func (e *InvalidArgumentError) Error() string { return "invalid argument: " + e.Msg }

// NotFoundError: feature handle unknown, required bag key missing.
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return "not found: " + e.Msg }

// BackendFailureError: device lost, OOM, pipeline-compile failure.
type BackendFailureError struct{ Msg string }

func (e *BackendFailureError) Error() string { return "backend failure: " + e.Msg }

// UnsupportedError: required capability absent (e.g. external-semaphore
// import not available). Thrown during construction; CreateFeature-style
// callers catch and return FeatureNotFound.
type UnsupportedError struct{ Msg string }

func (e *UnsupportedError) Error() string { return "unsupported: " + e.Msg }

// ToStatus maps any error produced by this module onto the vendor ABI
// status table. Errors with no recognized classification are
// treated as BackendFailure, matching "surfaced: any non-OK effect-
// dispatch code".
func ToStatus(err error) Status {
	if err == nil {
		return Success
	}
	var invalid *InvalidArgumentError
	var notFound *NotFoundError
	var unsupported *UnsupportedError
	switch {
	case errors.As(err, &invalid):
		return InvalidParameter
	case errors.As(err, &notFound):
		return FeatureNotFound
	case errors.As(err, &unsupported):
		return FeatureNotFound
	default:
		return FeatureNotFound
	}
}
