package halaxy

import "fmt"

// ConfigurationError indicates required Halaxy credentials or endpoints are
// absent from the environment. Not retryable.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("halaxy: missing configuration: %s", e.Field)
}

// AuthError indicates the token endpoint rejected the client credentials.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("halaxy: token request failed (status %d): %s", e.StatusCode, e.Body)
}

// APIError is a non-2xx response from a Halaxy resource endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("halaxy: API error (status %d): %s", e.StatusCode, e.Body)
}

// ValidationError is a locally detected invalid input, caught before any
// network round trip.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "halaxy: " + e.Reason
}
