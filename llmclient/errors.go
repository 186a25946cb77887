package llmclient

import "fmt"

// ClientError is the base error type for completion client failures.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// APIError represents an error returned by the completion endpoint.
type APIError struct {
	ClientError
	StatusCode int
	Body       string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status=%d, retryable=%v)", e.Message, e.StatusCode, e.Retryable)
}

// Concrete endpoint error types.

type AuthenticationError struct{ APIError }
type InvalidRequestError struct{ APIError }
type RateLimitError struct{ APIError }
type ServerError struct{ APIError }

// Non-endpoint errors.

type RequestTimeoutError struct{ ClientError }
type NetworkError struct{ ClientError }
type EmptyResponseError struct{ ClientError }

// errorFromStatusCode maps an HTTP status code to the appropriate error type.
func errorFromStatusCode(statusCode int, body string) error {
	ae := APIError{
		ClientError: ClientError{Message: fmt.Sprintf("completion endpoint returned %d", statusCode)},
		StatusCode:  statusCode,
		Body:        body,
	}

	switch {
	case statusCode == 401 || statusCode == 403:
		return &AuthenticationError{APIError: ae}
	case statusCode == 400 || statusCode == 404 || statusCode == 422:
		return &InvalidRequestError{APIError: ae}
	case statusCode == 429:
		ae.Retryable = true
		return &RateLimitError{APIError: ae}
	case statusCode >= 500:
		ae.Retryable = true
		return &ServerError{APIError: ae}
	default:
		// Unknown statuses default to retryable.
		ae.Retryable = true
		return &ae
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthenticationError:
		return false
	case *InvalidRequestError:
		return false
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *APIError:
		return e.Retryable
	case *RequestTimeoutError:
		return true
	case *NetworkError:
		return true
	case *EmptyResponseError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}
