package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bargom/hookrelay/internal/webhook"
)

func newTestWebhook(id webhook.ID) *webhook.Webhook {
	return &webhook.Webhook{
		ID:     id,
		URL:    "http://example.org/hooks",
		Label:  "test",
		Status: webhook.Enabled(),
		Mode:   webhook.SingleAtMostOnce,
	}
}

func TestMemoryRepository_CreateWebhook(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.CreateWebhook(ctx, newTestWebhook(1))
	require.NoError(t, err)

	retrieved, err := repo.GetWebhook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/hooks", retrieved.URL)
	assert.Equal(t, webhook.StateEnabled, retrieved.Status.State)
	assert.False(t, retrieved.CreatedAt.IsZero())
}

func TestMemoryRepository_CreateWebhook_Duplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))

	err := repo.CreateWebhook(ctx, newTestWebhook(1))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryRepository_CreateWebhook_Invalid(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	w := newTestWebhook(1)
	w.URL = ""
	assert.Error(t, repo.CreateWebhook(ctx, w))
}

func TestMemoryRepository_GetWebhook_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.GetWebhook(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_GetWebhook_ReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))

	first, err := repo.GetWebhook(ctx, 1)
	require.NoError(t, err)
	first.URL = "http://mutated.example.org"

	second, err := repo.GetWebhook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/hooks", second.URL)
}

func TestMemoryRepository_ListWebhooks(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := webhook.ID(1); i <= 5; i++ {
		require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(i)))
	}
	require.NoError(t, repo.SetWebhookStatus(ctx, 5, webhook.Disabled()))

	all, err := repo.ListWebhooks(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, webhook.ID(1), all[0].ID)

	enabled := webhook.StateEnabled
	filtered, err := repo.ListWebhooks(ctx, Filter{State: &enabled})
	require.NoError(t, err)
	assert.Len(t, filtered, 4)

	paged, err := repo.ListWebhooks(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, webhook.ID(2), paged[0].ID)
	assert.Equal(t, webhook.ID(3), paged[1].ID)

	none, err := repo.ListWebhooks(ctx, Filter{Offset: 10})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryRepository_CountWebhooks(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	n, err := repo.CountWebhooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))
	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(2)))

	n, err = repo.CountWebhooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryRepository_UpdateWebhook(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))

	url := "http://example.org/v2"
	label := "renamed"
	err := repo.UpdateWebhook(ctx, 1, Update{URL: &url, Label: &label})
	require.NoError(t, err)

	w, err := repo.GetWebhook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, url, w.URL)
	assert.Equal(t, label, w.Label)
	assert.Equal(t, webhook.SingleAtMostOnce, w.Mode)

	empty := ""
	assert.Error(t, repo.UpdateWebhook(ctx, 1, Update{URL: &empty}))
	assert.ErrorIs(t, repo.UpdateWebhook(ctx, 9, Update{}), ErrNotFound)
}

func TestMemoryRepository_SetWebhookStatus(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))

	since := time.Now()
	require.NoError(t, repo.SetWebhookStatus(ctx, 1, webhook.Retrying(since)))

	w, err := repo.GetWebhook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, webhook.StateRetrying, w.Status.State)
	assert.Equal(t, since, w.Status.Since)

	assert.ErrorIs(t, repo.SetWebhookStatus(ctx, 7, webhook.Enabled()), ErrNotFound)
	assert.Error(t, repo.SetWebhookStatus(ctx, 1, webhook.Status{State: "sleeping"}))
}

func TestMemoryRepository_DeleteWebhook(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))
	require.NoError(t, repo.DeleteWebhook(ctx, 1))

	_, err := repo.GetWebhook(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteWebhook(ctx, 1), ErrNotFound)
}

func TestMemoryRepository_SubscribeToWebhookUpdates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))

	subCtx, cancel := context.WithCancel(ctx)
	updates, err := repo.SubscribeToWebhookUpdates(subCtx)
	require.NoError(t, err)

	require.NoError(t, repo.SetWebhookStatus(ctx, 1, webhook.Disabled()))

	select {
	case u := <-updates:
		assert.Equal(t, webhook.ID(1), u.WebhookID)
		assert.Equal(t, webhook.StateDisabled, u.Status.State)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status update")
	}

	cancel()

	select {
	case _, ok := <-updates:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestMemoryRepository_SubscribersIsolated(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWebhook(ctx, newTestWebhook(1)))

	aCtx, cancelA := context.WithCancel(ctx)
	defer cancelA()
	bCtx, cancelB := context.WithCancel(ctx)

	a, err := repo.SubscribeToWebhookUpdates(aCtx)
	require.NoError(t, err)
	_, err = repo.SubscribeToWebhookUpdates(bCtx)
	require.NoError(t, err)

	cancelB()
	require.NoError(t, repo.SetWebhookStatus(ctx, 1, webhook.Disabled()))

	select {
	case u := <-a:
		assert.Equal(t, webhook.StateDisabled, u.Status.State)
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber did not receive the update")
	}
}
