package imagegen

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies image API failures.
type ErrorType string

const (
	// ErrorTypeUnavailable means the service cannot be used at all:
	// missing credential or unreachable endpoint.
	ErrorTypeUnavailable ErrorType = "unavailable"
	// ErrorTypeRejected means the upstream refused the request for
	// policy or account-verification reasons.
	ErrorTypeRejected ErrorType = "rejected"
	// ErrorTypeInvalidInput means the supplied base image was not
	// accepted as a decodable image.
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	// ErrorTypeUpstream covers all other upstream failures.
	ErrorTypeUpstream ErrorType = "upstream"
)

// Error represents a structured image API error with classification.
// None of these are retryable by this client; the caller decides whether
// to surface or escalate.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a sanitized, actionable message safe to show to the
// requesting user. Operator detail stays in the error itself.
func (e *Error) UserMessage() string {
	switch e.Type {
	case ErrorTypeUnavailable:
		return "The image service is not configured on this server. Please contact the administrators."
	case ErrorTypeRejected:
		return "The image service refused this request. Please contact the administrators."
	case ErrorTypeInvalidInput:
		return "The attached file could not be read as an image. Please upload a valid image and try again."
	default:
		return "An error occurred while generating the image. Please check your prompt and try again."
	}
}

// NewError creates a new structured image API error.
func NewError(errType ErrorType, message string, cause error) *Error {
	return &Error{Type: errType, Message: message, Cause: cause}
}

// Classify categorizes an upstream error into a structured *Error. Errors
// that are already classified pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{
			Type:       ErrorTypeUpstream,
			Message:    "request to image service failed",
			StatusCode: reqErr.HTTPStatusCode,
			Cause:      err,
		}
	}

	return &Error{Type: ErrorTypeUpstream, Message: "image service call failed", Cause: err}
}

func classifyAPIError(apiErr *openai.APIError, cause error) *Error {
	msg := strings.ToLower(apiErr.Message)

	switch {
	case apiErr.HTTPStatusCode == http.StatusUnauthorized:
		return &Error{
			Type:       ErrorTypeUnavailable,
			Message:    "image service credential rejected",
			StatusCode: apiErr.HTTPStatusCode,
			Cause:      cause,
		}
	case apiErr.HTTPStatusCode == http.StatusForbidden,
		strings.Contains(msg, "must be verified"),
		strings.Contains(msg, "content policy"),
		strings.Contains(msg, "safety system"):
		return &Error{
			Type:       ErrorTypeRejected,
			Message:    "image service rejected the request",
			StatusCode: apiErr.HTTPStatusCode,
			Cause:      cause,
		}
	case strings.Contains(msg, "invalid image"),
		strings.Contains(msg, "uploaded image"),
		strings.Contains(msg, "could not be decoded"):
		return &Error{
			Type:       ErrorTypeInvalidInput,
			Message:    "base image was not accepted",
			StatusCode: apiErr.HTTPStatusCode,
			Cause:      cause,
		}
	default:
		return &Error{
			Type:       ErrorTypeUpstream,
			Message:    "image service returned an error",
			StatusCode: apiErr.HTTPStatusCode,
			Cause:      cause,
		}
	}
}
