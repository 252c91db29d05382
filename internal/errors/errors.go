// Package errors provides categorized errors for the market scanner.
// Categories follow the pipeline failure policy: transient upstream failures
// skip a unit, format failures default a facet, cache corruption self-heals,
// capacity failures reject immediately, insufficient results discard a run.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/market-scanner/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransient represents transient upstream network failures
	CategoryTransient ErrorCategory = "transient"
	// CategoryUpstreamFormat represents unexpected upstream payload shapes
	CategoryUpstreamFormat ErrorCategory = "upstream_format"
	// CategoryCache represents cache storage failures
	CategoryCache ErrorCategory = "cache"
	// CategoryCapacity represents rejected work because a load is in flight
	CategoryCapacity ErrorCategory = "capacity"
	// CategoryInsufficientResults represents a discarded renewal run
	CategoryInsufficientResults ErrorCategory = "insufficient_results"
	// CategoryValidation represents invalid request parameters
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents internal failures
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Upstream errors (remote client)

// NewUpstreamTimeoutError creates a timeout error for an upstream endpoint
func NewUpstreamTimeoutError(endpoint string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "UPSTREAM_TIMEOUT",
		Message:    fmt.Sprintf("upstream request timed out: %s", endpoint),
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// NewUpstreamUnreachableError creates a connection failure error
func NewUpstreamUnreachableError(endpoint string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_UNREACHABLE",
		Message:    fmt.Sprintf("upstream unreachable: %s", endpoint),
		Cause:      cause,
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// NewUpstreamHTTPError creates an error for a non-2xx upstream response
func NewUpstreamHTTPError(endpoint string, status int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_HTTP_ERROR",
		Message:    fmt.Sprintf("upstream returned HTTP %d: %s", status, endpoint),
		Details: map[string]interface{}{
			"endpoint": endpoint,
			"status":   status,
		},
	}
}

// NewMalformedResponseError creates an error for an undecodable upstream payload
func NewMalformedResponseError(endpoint string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstreamFormat,
		StatusCode: http.StatusBadGateway,
		Code:       "MALFORMED_RESPONSE",
		Message:    fmt.Sprintf("malformed upstream response: %s", endpoint),
		Cause:      cause,
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// Pipeline errors (orchestrator / scheduler)

// NewLoadInProgressError creates an error for a rejected concurrent load
func NewLoadInProgressError(kind types.CatalogKind) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCapacity,
		StatusCode: http.StatusConflict,
		Code:       "LOAD_IN_PROGRESS",
		Message:    "a catalog load is already running",
		Details: map[string]interface{}{
			"kind": string(kind),
		},
	}
}

// NewEmptyCatalogError creates an error for a load that produced no records
func NewEmptyCatalogError(kind types.CatalogKind) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInsufficientResults,
		StatusCode: http.StatusBadGateway,
		Code:       "EMPTY_CATALOG",
		Message:    "catalog load produced zero records, snapshot not published",
		Details: map[string]interface{}{
			"kind": string(kind),
		},
	}
}

// NewInsufficientResultsError creates an error for a discarded renewal run
func NewInsufficientResultsError(newCount, oldCount int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInsufficientResults,
		StatusCode: http.StatusBadGateway,
		Code:       "INSUFFICIENT_RESULTS",
		Message:    fmt.Sprintf("renewal produced %d records against %d previous, snapshot discarded", newCount, oldCount),
		Details: map[string]interface{}{
			"newCount": newCount,
			"oldCount": oldCount,
		},
	}
}

// API-facing errors

// NewSnapshotNotLoadedError creates an error for a snapshot that does not exist yet
func NewSnapshotNotLoadedError(kind types.CatalogKind) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "SNAPSHOT_NOT_LOADED",
		Message:    fmt.Sprintf("no %s snapshot has been loaded yet", kind),
		Details: map[string]interface{}{
			"kind": string(kind),
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize wraps an arbitrary error into a CategorizedError
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsTransient reports whether an error represents a transient upstream failure.
// Transient failures skip the affected unit without aborting the run.
func IsTransient(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryTransient
}

// IsCapacity reports whether an error is a load-in-progress rejection
func IsCapacity(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryCapacity
}

// IsInsufficientResults reports whether a run was discarded for producing
// too few records
func IsInsufficientResults(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryInsufficientResults
}
