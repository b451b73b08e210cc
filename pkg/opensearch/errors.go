package opensearch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// APIError is a non-2xx response from OpenSearch, carrying the engine's
// error type so callers can distinguish benign races (alias/index already
// exists, document absent) from real failures.
type APIError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("opensearch: [%d] %s: %s", e.StatusCode, e.Type, e.Reason)
	}
	return fmt.Sprintf("opensearch: [%d] %s", e.StatusCode, e.Reason)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsAlreadyExists reports whether err is a resource-already-exists conflict,
// as raised when two bootstrap runs race on index creation.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Type == "resource_already_exists_exception" ||
		apiErr.Type == "index_already_exists_exception"
}

type errorEnvelope struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

type errorDetail struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// asAPIError converts an error response into an *APIError, reading as much
// detail from the body as it can.
func asAPIError(res *opensearchapi.Response) error {
	apiErr := &APIError{StatusCode: res.StatusCode}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		apiErr.Reason = res.Status()
		return apiErr
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		apiErr.Reason = res.Status()
		return apiErr
	}

	var detail errorDetail
	if err := json.Unmarshal(envelope.Error, &detail); err == nil && detail.Type != "" {
		apiErr.Type = detail.Type
		apiErr.Reason = detail.Reason
		return apiErr
	}

	var reason string
	if err := json.Unmarshal(envelope.Error, &reason); err == nil {
		apiErr.Reason = reason
		return apiErr
	}

	apiErr.Reason = string(envelope.Error)
	return apiErr
}
