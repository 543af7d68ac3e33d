package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bargom/hookrelay/internal/api/handlers"
	apitesting "github.com/bargom/hookrelay/internal/api/testing"
	"github.com/bargom/hookrelay/internal/api/types"
	eventrepo "github.com/bargom/hookrelay/internal/event/repository"
	"github.com/bargom/hookrelay/internal/state"
	"github.com/bargom/hookrelay/internal/webhook"
	webhookrepo "github.com/bargom/hookrelay/internal/webhook/repository"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	webhooks *webhookrepo.MemoryRepository
	events   *eventrepo.MemoryRepository
	ring     *handlers.ErrorRing
}

func setupTestHandler(t *testing.T) (*testEnv, *apitesting.TestServer) {
	t.Helper()

	env := &testEnv{
		webhooks: webhookrepo.NewMemoryRepository(),
		events:   eventrepo.NewMemoryRepository(),
		ring:     handlers.NewErrorRing(8),
	}

	h := handlers.New(env.webhooks, env.events, handlers.WithErrorRing(env.ring))

	r := chi.NewRouter()
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/", h.CreateWebhook)
		r.Get("/", h.ListWebhooks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetWebhook)
			r.Patch("/", h.UpdateWebhook)
			r.Delete("/", h.DeleteWebhook)
			r.Post("/enable", h.EnableWebhook)
			r.Post("/disable", h.DisableWebhook)
		})
	})
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/stats", h.GetEventStats)
	})
	r.Get("/errors", h.ListErrors)

	ts := apitesting.NewTestServer(t, r)
	t.Cleanup(ts.Close)

	return env, ts
}

func webhookBody(id int64, url string) map[string]interface{} {
	return map[string]interface{}{
		"id":            id,
		"url":           url,
		"delivery_mode": "single-at-least-once",
	}
}

func TestCreateWebhook(t *testing.T) {
	_, ts := setupTestHandler(t)

	t.Run("creates webhook with valid input", func(t *testing.T) {
		body := map[string]interface{}{
			"id":            1,
			"url":           "https://example.com/hook",
			"label":         "orders",
			"secret":        "hunter2",
			"delivery_mode": "batched-at-least-once",
		}
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", body)
		apitesting.AssertStatus(t, resp, http.StatusCreated)
		apitesting.AssertContentType(t, resp, "application/json")

		var created types.WebhookResponse
		apitesting.AssertJSON(t, resp, &created)

		assert.Equal(t, int64(1), created.ID)
		assert.Equal(t, "https://example.com/hook", created.URL)
		assert.Equal(t, "orders", created.Label)
		assert.Equal(t, "enabled", created.State)
		assert.Equal(t, "batched-at-least-once", created.Mode)
		assert.NotZero(t, created.CreatedAt)
		assert.NotZero(t, created.UpdatedAt)
	})

	t.Run("never echoes the secret", func(t *testing.T) {
		body := map[string]interface{}{
			"id":            2,
			"url":           "https://example.com/hook",
			"secret":        "s3cr3t-value",
			"delivery_mode": "single-at-most-once",
		}
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", body)
		apitesting.AssertStatus(t, resp, http.StatusCreated)

		raw := apitesting.ReadBody(t, resp)
		assert.NotContains(t, raw, "s3cr3t-value")
		assert.NotContains(t, raw, `"secret"`)
	})

	t.Run("accepts id zero", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(0, "https://example.com/zero"))
		apitesting.AssertStatus(t, resp, http.StatusCreated)

		var created types.WebhookResponse
		apitesting.AssertJSON(t, resp, &created)
		assert.Equal(t, int64(0), created.ID)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(3, "https://example.com/a"))
		apitesting.AssertStatus(t, resp, http.StatusCreated)

		resp = ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(3, "https://example.com/b"))
		apitesting.AssertStatus(t, resp, http.StatusConflict)
		apitesting.AssertJSONError(t, resp, "webhook id already registered")
	})

	t.Run("rejects missing id", func(t *testing.T) {
		body := map[string]interface{}{
			"url":           "https://example.com/hook",
			"delivery_mode": "single-at-most-once",
		}
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", body)
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("rejects negative id", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(-1, "https://example.com/hook"))
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("rejects missing url", func(t *testing.T) {
		body := map[string]interface{}{
			"id":            4,
			"delivery_mode": "single-at-most-once",
		}
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", body)
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("rejects malformed url", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(4, "not a url"))
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("rejects unknown delivery mode", func(t *testing.T) {
		body := map[string]interface{}{
			"id":            4,
			"url":           "https://example.com/hook",
			"delivery_mode": "fire-and-forget",
		}
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", body)
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", "invalid json")
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})
}

func TestGetWebhook(t *testing.T) {
	_, ts := setupTestHandler(t)

	createResp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(7, "https://example.com/get"))
	apitesting.AssertStatus(t, createResp, http.StatusCreated)
	createResp.Body.Close()

	t.Run("gets existing webhook", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks/7", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)
		apitesting.AssertContentType(t, resp, "application/json")

		var got types.WebhookResponse
		apitesting.AssertJSON(t, resp, &got)

		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, "https://example.com/get", got.URL)
		assert.Equal(t, "enabled", got.State)
	})

	t.Run("returns 404 for unknown webhook", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks/999", nil)
		apitesting.AssertStatus(t, resp, http.StatusNotFound)
		apitesting.AssertJSONError(t, resp, "webhook not found")
	})

	t.Run("returns 400 for non-numeric id", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks/not-a-number", nil)
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("returns 400 for negative id", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks/-3", nil)
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
	})
}

func TestListWebhooks(t *testing.T) {
	_, ts := setupTestHandler(t)

	for i := int64(1); i <= 5; i++ {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(i, "https://example.com/hook"))
		apitesting.AssertStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	}
	resp := ts.MakeRequest(http.MethodPost, "/webhooks/2/disable", nil)
	apitesting.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	t.Run("lists all webhooks with total", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var result types.ListResponse[types.WebhookResponse]
		apitesting.AssertJSON(t, resp, &result)

		assert.Len(t, result.Data, 5)
		assert.Equal(t, 20, result.Limit)
		assert.Equal(t, 0, result.Offset)
		assert.Equal(t, 5, result.Total)
	})

	t.Run("filters by state", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks?state=disabled", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var result types.ListResponse[types.WebhookResponse]
		apitesting.AssertJSON(t, resp, &result)

		assert.Len(t, result.Data, 1)
		assert.Equal(t, int64(2), result.Data[0].ID)
		assert.Equal(t, "disabled", result.Data[0].State)
	})

	t.Run("rejects unknown state filter", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks?state=paused", nil)
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
		apitesting.AssertJSONError(t, resp, "unknown state filter")
	})

	t.Run("respects limit and offset", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks?limit=2&offset=2", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var result types.ListResponse[types.WebhookResponse]
		apitesting.AssertJSON(t, resp, &result)

		assert.Len(t, result.Data, 2)
		assert.Equal(t, 2, result.Limit)
		assert.Equal(t, 2, result.Offset)
	})

	t.Run("enforces max limit", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks?limit=1000", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var result types.ListResponse[types.WebhookResponse]
		apitesting.AssertJSON(t, resp, &result)

		assert.Equal(t, 100, result.Limit)
	})

	t.Run("falls back to default on invalid limit", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodGet, "/webhooks?limit=invalid", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var result types.ListResponse[types.WebhookResponse]
		apitesting.AssertJSON(t, resp, &result)

		assert.Equal(t, 20, result.Limit)
	})
}

func TestUpdateWebhook(t *testing.T) {
	_, ts := setupTestHandler(t)

	createResp := ts.MakeRequest(http.MethodPost, "/webhooks", map[string]interface{}{
		"id":            10,
		"url":           "https://example.com/orig",
		"label":         "original",
		"delivery_mode": "single-at-least-once",
	})
	apitesting.AssertStatus(t, createResp, http.StatusCreated)
	createResp.Body.Close()

	t.Run("updates label", func(t *testing.T) {
		body := map[string]interface{}{"label": "renamed"}
		resp := ts.MakeRequest(http.MethodPatch, "/webhooks/10", body)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var updated types.WebhookResponse
		apitesting.AssertJSON(t, resp, &updated)

		assert.Equal(t, "renamed", updated.Label)
		assert.Equal(t, "https://example.com/orig", updated.URL)
	})

	t.Run("updates url", func(t *testing.T) {
		body := map[string]interface{}{"url": "https://example.com/moved"}
		resp := ts.MakeRequest(http.MethodPatch, "/webhooks/10", body)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var updated types.WebhookResponse
		apitesting.AssertJSON(t, resp, &updated)

		assert.Equal(t, "https://example.com/moved", updated.URL)
	})

	t.Run("clears label with empty string", func(t *testing.T) {
		body := map[string]interface{}{"label": ""}
		resp := ts.MakeRequest(http.MethodPatch, "/webhooks/10", body)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var updated types.WebhookResponse
		apitesting.AssertJSON(t, resp, &updated)

		assert.Empty(t, updated.Label)
	})

	t.Run("does not change delivery mode", func(t *testing.T) {
		body := map[string]interface{}{
			"label":         "still here",
			"delivery_mode": "batched-at-most-once",
		}
		resp := ts.MakeRequest(http.MethodPatch, "/webhooks/10", body)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var updated types.WebhookResponse
		apitesting.AssertJSON(t, resp, &updated)

		assert.Equal(t, "single-at-least-once", updated.Mode)
	})

	t.Run("rejects empty update", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPatch, "/webhooks/10", map[string]interface{}{})
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
		apitesting.AssertJSONError(t, resp, "no updatable fields provided")
	})

	t.Run("rejects empty url", func(t *testing.T) {
		body := map[string]interface{}{"url": ""}
		resp := ts.MakeRequest(http.MethodPatch, "/webhooks/10", body)
		apitesting.AssertStatus(t, resp, http.StatusBadRequest)
		apitesting.AssertJSONError(t, resp, "url must not be empty")
	})

	t.Run("returns 404 for unknown webhook", func(t *testing.T) {
		body := map[string]interface{}{"label": "ghost"}
		resp := ts.MakeRequest(http.MethodPatch, "/webhooks/404", body)
		apitesting.AssertStatus(t, resp, http.StatusNotFound)
	})
}

func TestEnableDisableWebhook(t *testing.T) {
	_, ts := setupTestHandler(t)

	createResp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(20, "https://example.com/toggle"))
	apitesting.AssertStatus(t, createResp, http.StatusCreated)
	createResp.Body.Close()

	t.Run("disables webhook", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks/20/disable", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var got types.WebhookResponse
		apitesting.AssertJSON(t, resp, &got)
		assert.Equal(t, "disabled", got.State)
	})

	t.Run("enables webhook again", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks/20/enable", nil)
		apitesting.AssertStatus(t, resp, http.StatusOK)

		var got types.WebhookResponse
		apitesting.AssertJSON(t, resp, &got)
		assert.Equal(t, "enabled", got.State)
	})

	t.Run("returns 404 for unknown webhook", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodPost, "/webhooks/999/disable", nil)
		apitesting.AssertStatus(t, resp, http.StatusNotFound)
	})
}

func TestDeleteWebhook(t *testing.T) {
	_, ts := setupTestHandler(t)

	createResp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(30, "https://example.com/gone"))
	apitesting.AssertStatus(t, createResp, http.StatusCreated)
	createResp.Body.Close()

	t.Run("deletes existing webhook", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodDelete, "/webhooks/30", nil)
		apitesting.AssertStatus(t, resp, http.StatusNoContent)

		getResp := ts.MakeRequest(http.MethodGet, "/webhooks/30", nil)
		apitesting.AssertStatus(t, getResp, http.StatusNotFound)
	})

	t.Run("returns 404 for unknown webhook", func(t *testing.T) {
		resp := ts.MakeRequest(http.MethodDelete, "/webhooks/999", nil)
		apitesting.AssertStatus(t, resp, http.StatusNotFound)
	})
}

func TestDeleteWebhookClearsState(t *testing.T) {
	webhooks := webhookrepo.NewMemoryRepository()
	events := eventrepo.NewMemoryRepository()
	stateRepo := state.NewMemoryRepo()
	cache := state.NewCache(stateRepo, webhooks)

	h := handlers.New(webhooks, events, handlers.WithStateCleanup(cache))

	r := chi.NewRouter()
	r.Post("/webhooks", h.CreateWebhook)
	r.Delete("/webhooks/{id}", h.DeleteWebhook)
	ts := apitesting.NewTestServer(t, r)
	t.Cleanup(ts.Close)

	resp := ts.MakeRequest(http.MethodPost, "/webhooks", webhookBody(40, "https://example.com/flaky"))
	apitesting.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	ctx := context.Background()
	require.NoError(t, cache.SetStatus(ctx, 40, webhook.Retrying(time.Now())))
	_, err := stateRepo.Get(ctx, 40)
	require.NoError(t, err)

	resp = ts.MakeRequest(http.MethodDelete, "/webhooks/40", nil)
	apitesting.AssertStatus(t, resp, http.StatusNoContent)

	_, err = stateRepo.Get(ctx, 40)
	assert.ErrorIs(t, err, state.ErrNotFound)
}
