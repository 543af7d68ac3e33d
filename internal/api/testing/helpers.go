// Package testing provides test utilities for the API package.
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestServer wraps httptest.Server with request and assertion helpers.
type TestServer struct {
	*httptest.Server
	t *testing.T
}

// NewTestServer starts a test server for the given handler.
func NewTestServer(t *testing.T, handler http.Handler) *TestServer {
	return &TestServer{
		Server: httptest.NewServer(handler),
		t:      t,
	}
}

// URL returns the base URL of the test server.
func (ts *TestServer) URL() string {
	return ts.Server.URL
}

// MakeRequest makes an HTTP request to the test server. A non-nil body
// is sent as JSON.
func (ts *TestServer) MakeRequest(method, path string, body interface{}) *http.Response {
	return ts.MakeRequestWithHeaders(method, path, body, nil)
}

// MakeRequestWithHeaders makes an HTTP request with extra headers, for
// endpoints behind authentication.
func (ts *TestServer) MakeRequestWithHeaders(method, path string, body interface{}, headers map[string]string) *http.Response {
	ts.t.Helper()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(ts.t, err, "failed to marshal request body")
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL()+path, reqBody)
	require.NoError(ts.t, err, "failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(ts.t, err, "failed to execute request")

	return resp
}

// AssertStatus asserts that the response has the expected status code.
func AssertStatus(t *testing.T, resp *http.Response, expectedCode int) {
	t.Helper()
	require.Equal(t, expectedCode, resp.StatusCode, "unexpected status code")
}

// AssertJSON unmarshals the response body into the given value and asserts no error.
func AssertJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")

	err = json.Unmarshal(body, v)
	require.NoError(t, err, "failed to unmarshal response: %s", string(body))
}

// AssertJSONError asserts that the response is a JSON error with the expected message.
func AssertJSONError(t *testing.T, resp *http.Response, expectedMessage string) {
	t.Helper()
	var errResp ErrorResponse
	AssertJSON(t, resp, &errResp)
	require.Equal(t, expectedMessage, errResp.Error, "unexpected error message")
}

// AssertContentType asserts that the response has the expected content type.
func AssertContentType(t *testing.T, resp *http.Response, expectedType string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	require.Contains(t, contentType, expectedType, "unexpected content type")
}

// ErrorResponse represents a standard error response for assertions.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// ReadBody reads and returns the response body as a string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	return string(body)
}
