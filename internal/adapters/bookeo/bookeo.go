// Package bookeo integrates the Bookeo v2 REST API.
package bookeo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.bookeo.com/v2"

	headerAPIKey    = "X-Bookeo-apiKey"
	headerSecretKey = "X-Bookeo-secretKey"
	headerSignature = "X-Bookeo-Signature"

	// Bookeo rejects booking searches spanning more than 31 days.
	maxWindow = 31 * 24 * time.Hour
	pageSize  = 100
)

// Adapter talks to one Bookeo account.
type Adapter struct {
	client        *adapters.RESTClient
	apiKey        string
	secretKey     string
	webhookSecret string
	anchor        models.AnchorZone
	logger        zerolog.Logger
}

var _ adapters.Adapter = (*Adapter)(nil)

// New is the factory builder for Bookeo.
func New(creds map[string]string, opts adapters.Options) (adapters.Adapter, error) {
	apiKey := creds[models.CredentialAPIKey]
	secretKey := creds[models.CredentialSecretKey]
	if apiKey == "" || secretKey == "" {
		return nil, adapters.ConfigError("bookeo requires %s and %s", models.CredentialAPIKey, models.CredentialSecretKey)
	}

	a := &Adapter{
		apiKey:        apiKey,
		secretKey:     secretKey,
		webhookSecret: creds[models.CredentialWebhookSecret],
		anchor:        opts.Anchor,
		logger:        zerolog.Nop(),
	}
	if opts.Logger != nil {
		a.logger = opts.Logger.With().Str("provider", models.ProviderBookeo).Logger()
	}

	base := opts.BaseURL(models.ProviderBookeo, DefaultBaseURL)
	if v := creds[models.CredentialBaseURL]; v != "" {
		base = v
	}
	a.client = opts.NewRESTClient(models.ProviderBookeo, base, a.decorate)
	return a, nil
}

func (a *Adapter) decorate(r *http.Request) {
	r.Header.Set(headerAPIKey, a.apiKey)
	r.Header.Set(headerSecretKey, a.secretKey)
}

func (a *Adapter) Provider() string { return models.ProviderBookeo }

// Authenticate checks the key pair against the business settings endpoint.
func (a *Adapter) Authenticate(ctx context.Context, _ map[string]string) adapters.AuthResult {
	var settings map[string]interface{}
	if err := a.client.Do(ctx, http.MethodGet, "/settings/business", nil, nil, &settings); err != nil {
		return adapters.AuthResult{Success: false, Error: err.Error()}
	}
	return adapters.AuthResult{Success: true}
}

// FetchBookings lists bookings starting inside window. Windows longer than
// Bookeo allows are split into consecutive chunks.
func (a *Adapter) FetchBookings(ctx context.Context, window adapters.DateRange) ([]models.Booking, error) {
	var out []models.Booking
	for start := window.Start; start.Before(window.End); start = start.Add(maxWindow) {
		end := start.Add(maxWindow)
		if end.After(window.End) {
			end = window.End
		}
		chunk, err := a.fetchChunk(ctx, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (a *Adapter) fetchChunk(ctx context.Context, start, end time.Time) ([]models.Booking, error) {
	q := url.Values{}
	q.Set("startTime", start.UTC().Format(time.RFC3339))
	q.Set("endTime", end.UTC().Format(time.RFC3339))
	q.Set("itemsPerPage", strconv.Itoa(pageSize))
	q.Set("expandCustomer", "true")
	q.Set("includeCanceled", "true")

	var out []models.Booking
	for page := 1; ; page++ {
		var list bookingList
		if err := a.client.Do(ctx, http.MethodGet, "/bookings", q, nil, &list); err != nil {
			return nil, err
		}
		for _, raw := range list.Data {
			b, err := a.ToInternalFormat(raw)
			if err != nil {
				a.logger.Warn().Err(err).Msg("skip undecodable booking")
				continue
			}
			out = append(out, b)
		}

		if list.Info.PageNavigationToken == "" || page >= list.Info.TotalPages {
			return out, nil
		}
		q = url.Values{}
		q.Set("pageNavigationToken", list.Info.PageNavigationToken)
		q.Set("pageNumber", strconv.Itoa(page+1))
	}
}

func (a *Adapter) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	var ext booking
	q := url.Values{"expandCustomer": {"true"}}
	if err := a.client.Do(ctx, http.MethodGet, "/bookings/"+url.PathEscape(id), q, nil, &ext); err != nil {
		return models.Booking{}, err
	}
	return a.toInternal(ext), nil
}

func (a *Adapter) CreateBooking(ctx context.Context, input models.Booking) (models.Booking, error) {
	if err := models.ValidateBooking(input); err != nil {
		return models.Booking{}, err
	}
	body := a.toExternal(input)
	body.BookingNumber = ""

	var created booking
	if err := a.client.Do(ctx, http.MethodPost, "/bookings", nil, body, &created); err != nil {
		return models.Booking{}, err
	}
	if created.BookingNumber == "" {
		return models.Booking{}, &adapters.ProviderError{Provider: models.ProviderBookeo, Message: "create returned no booking number"}
	}
	out := a.toInternal(created)
	if out.StartTime.IsZero() {
		// Bookeo may answer with the number only.
		out = input
		out.ExternalID = created.BookingNumber
	}
	return out, nil
}

// UpdateBooking reads the current booking, applies patch and writes it back:
// Bookeo only supports full replacement.
func (a *Adapter) UpdateBooking(ctx context.Context, id string, patch models.BookingPatch) (models.Booking, error) {
	current, err := a.GetBooking(ctx, id)
	if err != nil {
		return models.Booking{}, err
	}
	next := patch.Apply(current)
	next.ExternalID = id
	if err := models.ValidateBooking(next); err != nil {
		return models.Booking{}, err
	}

	var updated booking
	if err := a.client.Do(ctx, http.MethodPut, "/bookings/"+url.PathEscape(id), nil, a.toExternal(next), &updated); err != nil {
		return models.Booking{}, err
	}
	if updated.BookingNumber == "" {
		return next, nil
	}
	return a.toInternal(updated), nil
}

func (a *Adapter) CancelBooking(ctx context.Context, id string) error {
	q := url.Values{"notifyCustomer": {"false"}}
	err := a.client.Do(ctx, http.MethodDelete, "/bookings/"+url.PathEscape(id), q, nil, nil)
	var pe *adapters.ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// GetAvailability lists open slots of one product.
func (a *Adapter) GetAvailability(ctx context.Context, p adapters.AvailabilityParams) ([]models.TimeSlot, error) {
	if p.ServiceID == "" {
		return nil, fmt.Errorf("%w: bookeo availability needs a product id", models.ErrInvalidBooking)
	}
	q := url.Values{}
	q.Set("productId", p.ServiceID)
	q.Set("startTime", p.Start.UTC().Format(time.RFC3339))
	q.Set("endTime", p.End.UTC().Format(time.RFC3339))
	q.Set("itemsPerPage", strconv.Itoa(pageSize))

	var list slotList
	if err := a.client.Do(ctx, http.MethodGet, "/availability/slots", q, nil, &list); err != nil {
		return nil, err
	}
	slots := make([]models.TimeSlot, 0, len(list.Data))
	for _, s := range list.Data {
		slots = append(slots, models.TimeSlot{
			Start:     a.anchor.ParseOrZero(s.StartTime),
			End:       a.anchor.ParseOrZero(s.EndTime),
			Available: s.NumSeatsAvailable > 0,
			Capacity:  s.NumSeatsAvailable,
		})
	}
	return slots, nil
}

func (a *Adapter) SignatureHeader() string { return headerSignature }

// SetupWebhook subscribes callbackURL to booking notifications. Bookeo signs
// notifications with the account secret key unless a dedicated secret is stored.
func (a *Adapter) SetupWebhook(ctx context.Context, callbackURL string) (models.WebhookConfig, error) {
	reg := webhookRegistration{URL: callbackURL, Domain: "bookings", Type: "all"}
	var created webhookCreated
	if err := a.client.Do(ctx, http.MethodPost, "/webhooks", nil, reg, &created); err != nil {
		return models.WebhookConfig{}, err
	}
	return models.WebhookConfig{ID: created.ID, URL: callbackURL, Secret: a.webhookSecret}, nil
}

func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	secret := a.webhookSecret
	if secret == "" {
		secret = a.secretKey
	}
	return adapters.VerifyHMAC(secret, payload, signature)
}

// ParseWebhookEvent maps a Bookeo notification onto the canonical event types.
func (a *Adapter) ParseWebhookEvent(payload []byte) (adapters.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return adapters.WebhookEvent{}, fmt.Errorf("%w: bookeo notification: %v", adapters.ErrMalformedPayload, err)
	}
	if n.Domain != "" && n.Domain != "bookings" {
		return adapters.WebhookEvent{Type: adapters.EventIgnored, ExternalID: n.ItemID}, nil
	}

	ev := adapters.WebhookEvent{ExternalID: n.ItemID, Booking: n.Item}
	switch n.Type {
	case "created":
		ev.Type = adapters.EventCreated
	case "updated":
		ev.Type = adapters.EventUpdated
	case "deleted":
		ev.Type = adapters.EventDeleted
	default:
		ev.Type = adapters.EventIgnored
		return ev, nil
	}

	if len(n.Item) > 0 && string(n.Item) != "null" {
		var item booking
		if err := json.Unmarshal(n.Item, &item); err == nil {
			if ev.ExternalID == "" {
				ev.ExternalID = item.BookingNumber
			}
			if item.Canceled && ev.Type == adapters.EventUpdated {
				ev.Type = adapters.EventCancelled
			}
		}
	} else {
		ev.Booking = nil
	}
	return ev, nil
}

func (a *Adapter) Classify(err error) adapters.Failure {
	return adapters.Classify(err)
}
