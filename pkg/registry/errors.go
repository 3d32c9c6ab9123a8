package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Errors for image identity operations. These mark usage-contract violations
// and comparison failures, which are always surfaced and never coerced into
// a boolean result.
var (
	// ErrImageComparison indicates an equality check whose manifests could
	// not be retrieved or compared.
	ErrImageComparison = errors.New("image comparison not possible")
	// ErrImageContains indicates a containment check between incompatible
	// manifest kinds; the member must be single-architecture and the
	// collection multi-architecture.
	ErrImageContains = errors.New("image containment check not possible")
)

// HTTPError is a final registry response with status >= 400, carrying the
// error messages the registry supplied in its JSON errors array when present.
type HTTPError struct {
	StatusCode int      // HTTP status; zero when the error is header-level.
	Reason     string   // Status text or a description of the failure.
	URL        string   // Request URL, when known.
	Messages   []string // Registry-supplied error messages.
}

// Error renders the status, reason, and any registry error messages.
func (e *HTTPError) Error() string {
	msg := e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("(%d) %s", e.StatusCode, e.Reason)
	}

	if len(e.Messages) > 0 {
		msg += ", " + strings.Join(e.Messages, ", ")
	}

	return msg
}

// registryErrorBody is the error document returned by registries per the
// distribution spec.
type registryErrorBody struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// newHTTPError builds an HTTPError from a final response, extracting the
// registry's error messages from the body when it is the spec'd JSON
// document.
func newHTTPError(statusCode int, reason, url string, body []byte) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: statusCode,
		Reason:     reason,
		URL:        url,
	}

	content := registryErrorBody{}
	if err := json.Unmarshal(body, &content); err == nil {
		for _, registryErr := range content.Errors {
			httpErr.Messages = append(httpErr.Messages, registryErr.Message)
		}
	}

	return httpErr
}
