// Package errors classifies failures of the proof service so that transports
// can map them onto status codes and verification results can report a kind.
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

const (
	// CategoryGeneralError is an unexpected failure inside the service.
	CategoryGeneralError Category = iota
	// CategoryDataError is input that can never be processed as given:
	// empty or oversized files, malformed hashes, unknown algorithms.
	CategoryDataError
	// CategoryResourceNotFound is a missing record, identity or network.
	CategoryResourceNotFound
	// CategoryNotSupported is a feature disabled by configuration.
	CategoryNotSupported
	// CategoryDataConflict is a write that collides with existing state,
	// such as reusing a DID or revoking twice.
	CategoryDataConflict
	// CategoryRecovering is a ledger or storage outage expected to clear.
	CategoryRecovering
	// CategoryCryptoVerification is a proof, signature or tamper signature
	// that did not verify.
	CategoryCryptoVerification
	// CategoryPolicyViolation is a well formed request rejected by a
	// configured policy, e.g. a revoked signer or a gas price ceiling.
	CategoryPolicyViolation
)

var categoryNames = map[Category]string{
	CategoryGeneralError:       "CategoryGeneralError",
	CategoryDataError:          "CategoryDataError",
	CategoryResourceNotFound:   "CategoryResourceNotFound",
	CategoryNotSupported:       "CategoryNotSupported",
	CategoryDataConflict:       "CategoryDataConflict",
	CategoryRecovering:         "CategoryRecovering",
	CategoryCryptoVerification: "CategoryCryptoVerification",
	CategoryPolicyViolation:    "CategoryPolicyViolation",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[CategoryGeneralError]
}

// ServiceError carries a category, a message safe to show to clients, and the
// underlying error for logs.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

func (err ServiceError) Unwrap() error {
	return err.Err
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryDataError:
		return http.StatusBadRequest
	case CategoryResourceNotFound:
		return http.StatusNotFound
	case CategoryNotSupported:
		return http.StatusMethodNotAllowed
	case CategoryDataConflict, CategoryPolicyViolation:
		return http.StatusConflict
	case CategoryRecovering:
		return http.StatusServiceUnavailable
	case CategoryCryptoVerification:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newError(cat Category, err error, prefix, message string) error {
	if err == nil {
		err = errors.New(prefix + ": " + message)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

// BadRequestError wraps err as a DataError. message is returned to the client.
func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, "bad request", message)
}

// ContentError is a DataError for document content or payloads that can never
// be processed as given.
func ContentError(err error, message string) error {
	return newError(CategoryDataError, err, "invalid content", message)
}

func ResourceNotFoundError(err error, message string) error {
	return newError(CategoryResourceNotFound, err, "not found", message)
}

func NotSupportedError(err error, message string) error {
	return newError(CategoryNotSupported, err, "not supported", message)
}

func ConflictError(err error, message string) error {
	return newError(CategoryDataConflict, err, "conflict", message)
}

func CryptoVerificationError(err error, message string) error {
	return newError(CategoryCryptoVerification, err, "verification failed", message)
}

// NetworkTransientError marks err as retryable. Anchoring and lookups retry
// these with backoff.
func NetworkTransientError(err error, message string) error {
	return newError(CategoryRecovering, err, "transient network failure", message)
}

func PolicyViolationError(err error, message string) error {
	return newError(CategoryPolicyViolation, err, "policy violation", message)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return Is(err, CategoryRecovering)
}

// Error kinds reported to callers next to a failed method.
const (
	KindContent            = "content"
	KindCryptoVerification = "crypto_verification"
	KindNetworkTransient   = "network_transient"
	KindPolicyViolation    = "policy_violation"
	KindGeneral            = "general"
)

// Kind maps err onto the error kind reported in verification results.
func Kind(err error) string {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return KindGeneral
	}
	switch svcErr.Category {
	case CategoryDataError:
		return KindContent
	case CategoryCryptoVerification:
		return KindCryptoVerification
	case CategoryRecovering:
		return KindNetworkTransient
	case CategoryPolicyViolation:
		return KindPolicyViolation
	default:
		return KindGeneral
	}
}
