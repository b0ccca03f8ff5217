package binance

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned before any network call when a signed
// endpoint is invoked without both an API key and a secret.
var ErrMissingCredentials = errors.New("binance: api key or secret not configured")

// APIError wraps a non-200 response or an undecodable payload.
type APIError struct {
	StatusCode int
	Body       string
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance api error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance api error: status %d: %s", e.StatusCode, e.Body)
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Msg
	}
	return apiErr
}

// IsAPIError reports whether err carries an exchange response error.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
