package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"FeedRelay/internal/api"
)

// APIError is a non-success response from a relay.
type APIError struct {
	Status  int    // Status is the HTTP status code
	Message string // Message is the server's error text
	Reason  string // Reason is the verifier rejection reason, if any
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("status %d: %s (%s)", e.Status, e.Message, e.Reason)
	}

	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the relay.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsPaused reports whether err is the relay refusing a guarded read.
func IsPaused(err error) bool {
	return statusOf(err) == http.StatusServiceUnavailable
}

// RejectReason returns the verifier reason carried by err, if any.
func RejectReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}

	return ""
}

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}

	return 0
}

// do sends a request and decodes a JSON answer into result when non-nil.
func (c *Client) do(method, path, contentType string, body []byte, result any) error {
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", method, path, err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", method, path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var apiErr api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&apiErr)

		return &APIError{Status: resp.StatusCode, Message: apiErr.Error, Reason: apiErr.Reason}
	}

	if result == nil {
		return nil
	}

	if raw, ok := result.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		return err
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// get performs a GET request.
func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, "", nil, result)
}

// postJSON performs a POST request with a JSON body.
func (c *Client) postJSON(path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	return c.do(http.MethodPost, path, "application/json", data, result)
}
