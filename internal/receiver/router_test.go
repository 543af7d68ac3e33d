package receiver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bargom/hookrelay/internal/receiver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type requestsPage struct {
	Requests []receiver.RecordedRequest `json:"requests"`
	Count    int                        `json:"count"`
}

func setupReceiver(t *testing.T) (*receiver.Recorder, *httptest.Server) {
	t.Helper()
	rec := receiver.NewRecorder(16)
	ts := httptest.NewServer(receiver.NewRouter(rec, nil))
	t.Cleanup(ts.Close)
	return rec, ts
}

func postHook(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Tag", "test")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func listRequests(t *testing.T, ts *httptest.Server, query string) requestsPage {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + "/requests" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page requestsPage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	return page
}

func TestReceiver_RecordsHook(t *testing.T) {
	_, ts := setupReceiver(t)

	resp := postHook(t, ts, "/hook", `{"order":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	resp.Body.Close()
	assert.NotEmpty(t, ack["id"])

	page := listRequests(t, ts, "")
	require.Equal(t, 1, page.Count)

	got := page.Requests[0]
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/hook", got.Path)
	assert.Equal(t, `{"order":1}`, got.Body)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "test", got.Headers.Get("X-Delivery-Tag"))
	assert.Equal(t, ack["id"], got.ID)
}

func TestReceiver_AnswersRequestedCode(t *testing.T) {
	_, ts := setupReceiver(t)

	tests := []struct {
		path string
		want int
	}{
		{"/hook/200", http.StatusOK},
		{"/hook/201", http.StatusCreated},
		{"/hook/204", http.StatusNoContent},
		{"/hook/404", http.StatusNotFound},
		{"/hook/500", http.StatusInternalServerError},
		{"/hook/503", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		resp := postHook(t, ts, tt.path, "payload")
		assert.Equal(t, tt.want, resp.StatusCode, "path %s", tt.path)
		resp.Body.Close()
	}

	// Every attempt was recorded, failures included.
	page := listRequests(t, ts, "")
	assert.Equal(t, len(tests), page.Count)
}

func TestReceiver_RejectsBadCode(t *testing.T) {
	_, ts := setupReceiver(t)

	for _, path := range []string{"/hook/99", "/hook/600", "/hook/abc"} {
		resp := postHook(t, ts, path, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "path %s", path)
		resp.Body.Close()
	}

	// Rejected calls are not recorded.
	page := listRequests(t, ts, "")
	assert.Zero(t, page.Count)
}

func TestReceiver_ListsNewestFirst(t *testing.T) {
	_, ts := setupReceiver(t)

	for _, body := range []string{"first", "second", "third"} {
		resp := postHook(t, ts, "/hook", body)
		resp.Body.Close()
	}

	page := listRequests(t, ts, "")
	require.Equal(t, 3, page.Count)
	assert.Equal(t, "third", page.Requests[0].Body)
	assert.Equal(t, "first", page.Requests[2].Body)

	limited := listRequests(t, ts, "?limit=1")
	require.Equal(t, 1, limited.Count)
	assert.Equal(t, "third", limited.Requests[0].Body)
}

func TestReceiver_ClearRequests(t *testing.T) {
	_, ts := setupReceiver(t)

	resp := postHook(t, ts, "/hook", "data")
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/requests", nil)
	require.NoError(t, err)
	delResp, err := ts.Client().Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	page := listRequests(t, ts, "")
	assert.Zero(t, page.Count)
}
