//go:build integration

// Package integration exercises the full delivery path: management API,
// dispatch engine and a live test receiver wired together in-process.
package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bargom/hookrelay/internal/api"
	"github.com/bargom/hookrelay/internal/api/handlers"
	apitest "github.com/bargom/hookrelay/internal/api/testing"
	"github.com/bargom/hookrelay/internal/api/types"
	"github.com/bargom/hookrelay/internal/dispatch"
	"github.com/bargom/hookrelay/internal/receiver"
	"github.com/bargom/hookrelay/internal/state"
	"github.com/bargom/hookrelay/internal/storage"
	"github.com/bargom/hookrelay/pkg/delivery"
)

// waitFor bounds the Eventually polls. Generous because CI schedulers
// stall; the polls return as soon as the condition holds.
const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond
)

// Suite is one complete server: memory-backed storage and state, a
// running engine, the management API and a recording receiver the
// webhooks under test point at.
type Suite struct {
	Store    *storage.Store
	State    state.Repo
	Engine   *dispatch.Engine
	Ring     *handlers.ErrorRing
	API      *apitest.TestServer
	Recorder *receiver.Recorder
	Receiver *httptest.Server

	client delivery.Client
}

// SetupSuite assembles a server around the given engine configuration
// and tears it down when the test finishes.
func SetupSuite(t *testing.T, dcfg dispatch.Config) *Suite {
	t.Helper()

	ctx := context.Background()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.Open(ctx, storage.Config{Driver: storage.DriverMemory})
	require.NoError(t, err)

	stateRepo, err := state.New(ctx, state.Config{Store: "memory"})
	require.NoError(t, err)
	cache := state.NewCache(stateRepo, store.Webhooks)

	rec := receiver.NewRecorder(receiver.DefaultCapacity)
	recSrv := httptest.NewServer(receiver.NewRouter(rec, quiet))

	client := delivery.NewHTTPClient(delivery.Config{
		Timeout:       2 * time.Second,
		MaxConcurrent: 16,
	})

	engine := dispatch.New(dcfg, store.Webhooks, store.Events, cache, client)
	require.NoError(t, engine.Start(ctx))

	ring := handlers.NewErrorRing(64)
	go ring.Consume(context.Background(), engine.Errors())

	h := handlers.New(store.Webhooks, store.Events,
		handlers.WithErrorRing(ring),
		handlers.WithStateCleanup(cache),
	)
	apiSrv := apitest.NewTestServer(t, api.NewRouter(h, api.RouterConfig{Logger: quiet}))

	s := &Suite{
		Store:    store,
		State:    stateRepo,
		Engine:   engine,
		Ring:     ring,
		API:      apiSrv,
		Recorder: rec,
		Receiver: recSrv,
		client:   client,
	}
	t.Cleanup(func() { s.Teardown(t) })
	return s
}

// RestartEngine stops the running engine and starts a fresh one over
// the same stores, the way a process restart would.
func (s *Suite) RestartEngine(t *testing.T, dcfg dispatch.Config) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Engine.Shutdown(ctx))

	cache := state.NewCache(s.State, s.Store.Webhooks)
	engine := dispatch.New(dcfg, s.Store.Webhooks, s.Store.Events, cache, s.client)
	require.NoError(t, engine.Start(context.Background()))
	go s.Ring.Consume(context.Background(), engine.Errors())
	s.Engine = engine
}

// Teardown drains the engine and closes every component.
func (s *Suite) Teardown(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Engine.Shutdown(ctx))

	s.API.Close()
	s.Receiver.Close()
	require.NoError(t, s.State.Close())
	require.NoError(t, s.Store.Close())
}

// defaultEngineConfig is a fast schedule for tests: near-immediate
// retries and a horizon long enough that only the horizon tests cross
// it.
func defaultEngineConfig() dispatch.Config {
	return dispatch.Config{
		Retry: dispatch.RetryConfig{
			Base:           10 * time.Millisecond,
			Max:            40 * time.Millisecond,
			FailureHorizon: time.Hour,
		},
		Batching: &dispatch.BatchingConfig{
			MaxSize: 10,
			MaxWait: 50 * time.Millisecond,
		},
		DrainDeadline: 5 * time.Second,
		ErrorBuffer:   64,
	}
}

// hookURL points a webhook at the receiver, answering with the given
// status code.
func (s *Suite) hookURL(code int) string {
	if code == http.StatusOK {
		return s.Receiver.URL + "/hook"
	}
	return s.Receiver.URL + "/hook/" + strconv.Itoa(code)
}

// registerWebhook creates a webhook through the API and asserts 201.
func (s *Suite) registerWebhook(t *testing.T, id int64, url, mode string) {
	t.Helper()

	resp := s.API.MakeRequest(http.MethodPost, "/api/v1/webhooks", map[string]interface{}{
		"id":            id,
		"url":           url,
		"delivery_mode": mode,
	})
	apitest.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

// injectEvent submits an event through the API and returns its assigned id.
func (s *Suite) injectEvent(t *testing.T, webhookID int64, content string) int64 {
	t.Helper()

	resp := s.API.MakeRequest(http.MethodPost, "/api/v1/events", map[string]interface{}{
		"webhook_id": webhookID,
		"content":    content,
	})
	apitest.AssertStatus(t, resp, http.StatusAccepted)

	var ev types.EventResponse
	apitest.AssertJSON(t, resp, &ev)
	return ev.EventID
}

// webhookState fetches the webhook's current state string.
func (s *Suite) webhookState(t *testing.T, id int64) string {
	t.Helper()

	resp := s.API.MakeRequest(http.MethodGet, "/api/v1/webhooks/"+strconv.FormatInt(id, 10), nil)
	apitest.AssertStatus(t, resp, http.StatusOK)

	var wh types.WebhookResponse
	apitest.AssertJSON(t, resp, &wh)
	return wh.State
}

// eventStatus fetches one event's status through the list endpoint.
func (s *Suite) eventStatus(t *testing.T, webhookID, eventID int64) string {
	t.Helper()

	resp := s.API.MakeRequest(http.MethodGet, "/api/v1/events?webhook_id="+strconv.FormatInt(webhookID, 10), nil)
	apitest.AssertStatus(t, resp, http.StatusOK)

	var list types.ListResponse[types.EventResponse]
	apitest.AssertJSON(t, resp, &list)
	for _, ev := range list.Data {
		if ev.EventID == eventID {
			return ev.Status
		}
	}
	return ""
}

// errorKinds returns the kinds currently in the error ring.
func (s *Suite) errorKinds(t *testing.T) []string {
	t.Helper()

	resp := s.API.MakeRequest(http.MethodGet, "/api/v1/errors", nil)
	apitest.AssertStatus(t, resp, http.StatusOK)

	var list types.ListResponse[handlers.ErrorRecord]
	apitest.AssertJSON(t, resp, &list)
	kinds := make([]string, len(list.Data))
	for i, rec := range list.Data {
		kinds[i] = rec.Kind
	}
	return kinds
}
