// Package adapters defines the surface every booking provider integration implements.
// Queue processors only talk to Adapter; provider auth, field naming and status
// vocabularies live in the provider subpackages.
package adapters

import (
	"context"
	"encoding/json"
	"time"

	"bookingsync/internal/models"
)

// Canonical webhook event types.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventCancelled = "cancelled"
	EventDeleted   = "deleted"
	// EventResync means the provider signalled a change without describing it.
	EventResync = "resync"
	// EventIgnored is a handshake or notification that carries no booking change.
	EventIgnored = "ignored"
)

// AuthResult reports a credential check. Expected auth failures are returned
// with Success=false, not as errors.
type AuthResult struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// DateRange is a half-open booking window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// AvailabilityParams narrows a slot query.
type AvailabilityParams struct {
	Start     time.Time
	End       time.Time
	ServiceID string
	Duration  time.Duration
}

// WebhookEvent is a provider notification normalized by ParseWebhookEvent.
// Booking holds the provider representation, ready for ToInternalFormat.
type WebhookEvent struct {
	Type       string          `json:"type"`
	ExternalID string          `json:"external_id,omitempty"`
	Booking    json.RawMessage `json:"booking,omitempty"`
}

// IsCancellation reports whether the event removes the booking on the provider side.
func (e WebhookEvent) IsCancellation() bool {
	return e.Type == EventCancelled || e.Type == EventDeleted
}

// Adapter is implemented by every provider integration.
type Adapter interface {
	Provider() string

	Authenticate(ctx context.Context, creds map[string]string) AuthResult

	FetchBookings(ctx context.Context, window DateRange) ([]models.Booking, error)
	GetBooking(ctx context.Context, id string) (models.Booking, error)
	CreateBooking(ctx context.Context, input models.Booking) (models.Booking, error)
	UpdateBooking(ctx context.Context, id string, patch models.BookingPatch) (models.Booking, error)
	CancelBooking(ctx context.Context, id string) error

	GetAvailability(ctx context.Context, params AvailabilityParams) ([]models.TimeSlot, error)

	// SignatureHeader names the request header that carries the webhook signature.
	SignatureHeader() string
	SetupWebhook(ctx context.Context, callbackURL string) (models.WebhookConfig, error)
	VerifyWebhook(payload []byte, signature string) bool
	ParseWebhookEvent(payload []byte) (WebhookEvent, error)

	// ToInternalFormat and ToExternalFormat are pure. Missing external fields
	// degrade to zero values.
	ToInternalFormat(external json.RawMessage) (models.Booking, error)
	ToExternalFormat(b models.Booking) (json.RawMessage, error)

	// Classify decides whether an error returned by this adapter is retryable.
	Classify(err error) Failure
}

// WebhookNormalizer is implemented by adapters whose provider sends notification
// data in headers instead of the body. The result is what gets queued as the raw payload.
type WebhookNormalizer interface {
	NormalizeWebhook(headers map[string]string, body []byte) []byte
}
