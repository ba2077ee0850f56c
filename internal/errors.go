package gateway

import (
	"errors"
	"net/http"
)

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrBadRequest             = errors.New("bad request")
	ErrKeyDisabled            = errors.New("api key disabled")
	ErrProviderNotFound       = errors.New("provider not found")
	ErrNoCredentialsAvailable = errors.New("no credentials available")
	ErrServiceUnavailable     = errors.New("service unavailable")
)

// ErrorKind classifies a GatewayError per the error taxonomy.
type ErrorKind int

const (
	KindClient ErrorKind = iota
	KindPassthrough
	KindTransientNetwork
	KindTransform
	KindPoolEmpty
	KindCircuitOpen
	KindInternal
)

// GatewayError is the single typed error carried across component
// boundaries. It is errors.Is/As friendly via Unwrap, and implements
// HTTPStatus() so middleware and the circuit breaker's classifier can map it
// to a wire status without a second switch statement.
type GatewayError struct {
	Kind    ErrorKind
	Status  int
	Message string // client-safe
	Cause   error  // server-side detail, never sent to the client
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// HTTPStatus implements the httpStatusError interface shared with
// internal/circuitbreaker's error classifier.
func (e *GatewayError) HTTPStatus() int { return e.Status }

// NewClientError builds a 4xx client-visible error.
func NewClientError(status int, message string) *GatewayError {
	return &GatewayError{Kind: KindClient, Status: status, Message: message}
}

// NewTransientNetworkError wraps a DNS/connect/read failure.
func NewTransientNetworkError(cause error) *GatewayError {
	return &GatewayError{Kind: KindTransientNetwork, Status: http.StatusServiceUnavailable, Message: "upstream unavailable", Cause: cause}
}

// NewTransformError wraps a JSON parse/serialize failure inside a transform.
func NewTransformError(cause error) *GatewayError {
	return &GatewayError{Kind: KindTransform, Status: http.StatusServiceUnavailable, Message: "service_unavailable", Cause: cause}
}

// NewPoolEmptyError builds the synthetic 503 returned when a pool has no
// eligible credentials.
func NewPoolEmptyError() *GatewayError {
	return &GatewayError{Kind: KindPoolEmpty, Status: http.StatusServiceUnavailable, Message: "no_credentials_available"}
}

// NewServiceUnavailableError builds the synthetic 503 returned when a
// provider's circuit breaker is open and short-circuits the pool's
// credential loop entirely.
func NewServiceUnavailableError(providerID string) *GatewayError {
	return &GatewayError{Kind: KindCircuitOpen, Status: http.StatusServiceUnavailable, Message: "provider_unavailable: " + providerID}
}

// NewInternalError wraps a synchronous admin-path failure (e.g. a DB write).
func NewInternalError(cause error) *GatewayError {
	return &GatewayError{Kind: KindInternal, Status: http.StatusInternalServerError, Message: "internal error", Cause: cause}
}
