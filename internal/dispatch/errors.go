package dispatch

import (
	"errors"
	"fmt"

	"github.com/bargom/hookrelay/internal/event"
	"github.com/bargom/hookrelay/internal/webhook"
)

// MissingWebhookError reports an event addressed to a webhook that is
// not registered. The event is dropped.
type MissingWebhookError struct {
	WebhookID webhook.ID
}

func (e *MissingWebhookError) Error() string {
	return fmt.Sprintf("webhook %d is not registered", e.WebhookID)
}

// WebhookUnavailableError reports a webhook taken out of rotation
// after failing continuously past the failure horizon. Only an
// operator re-enable brings it back.
type WebhookUnavailableError struct {
	WebhookID webhook.ID
}

func (e *WebhookUnavailableError) Error() string {
	return fmt.Sprintf("webhook %d marked unavailable", e.WebhookID)
}

// RepoError reports a persistent-store failure the engine worked
// around. The engine keeps running; the affected event or status write
// may be picked up by recovery or maintenance.
type RepoError struct {
	Op  string
	Err error
}

func (e *RepoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RepoError) Unwrap() error { return e.Err }

// HTTPError reports a transport-level delivery failure: the endpoint
// was not reached or did not answer. Non-2xx responses are ordinary
// failed outcomes, not HTTPErrors.
type HTTPError struct {
	WebhookID webhook.ID
	Err       error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("delivery to webhook %d: %v", e.WebhookID, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// InternalError reports an engine invariant violation. It never stops
// the engine; it marks a bug worth reporting.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// ErrKind maps an error surfaced on the error channel to the label
// used in logs, metrics and the management API.
func ErrKind(err error) string {
	var (
		missing     *MissingWebhookError
		unavailable *WebhookUnavailableError
		invalid     *event.InvalidTransitionError
		repo        *RepoError
		httpErr     *HTTPError
	)
	switch {
	case errors.As(err, &missing):
		return "missing_webhook"
	case errors.As(err, &unavailable):
		return "webhook_unavailable"
	case errors.As(err, &invalid):
		return "invalid_state_change"
	case errors.As(err, &repo):
		return "repo"
	case errors.As(err, &httpErr):
		return "http"
	default:
		return "internal"
	}
}
