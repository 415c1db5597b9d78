// Package googlecal integrates Google Calendar through the calendar/v3 client.
package googlecal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	defaultCalendar = "primary"
	pageSize        = 250
)

// Adapter works on one calendar of one Google account.
type Adapter struct {
	svc          *calendar.Service
	guard        *adapters.Guard
	tokens       oauth2.TokenSource
	calendarID   string
	channelToken string
	anchor       models.AnchorZone
	logger       zerolog.Logger
}

var (
	_ adapters.Adapter           = (*Adapter)(nil)
	_ adapters.WebhookNormalizer = (*Adapter)(nil)
)

// New is the factory builder for Google Calendar. The access token is
// refreshed through the OAuth client credentials when it expires.
func New(creds map[string]string, opts adapters.Options) (adapters.Adapter, error) {
	access := creds[models.CredentialAccessToken]
	refresh := creds[models.CredentialRefreshToken]
	if access == "" && refresh == "" {
		return nil, adapters.ConfigError("google calendar requires %s or %s",
			models.CredentialAccessToken, models.CredentialRefreshToken)
	}
	if refresh != "" && (creds[models.CredentialClientID] == "" || creds[models.CredentialClientSecret] == "") {
		return nil, adapters.ConfigError("google calendar refresh needs %s and %s",
			models.CredentialClientID, models.CredentialClientSecret)
	}

	conf := &oauth2.Config{
		ClientID:     creds[models.CredentialClientID],
		ClientSecret: creds[models.CredentialClientSecret],
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	a := &Adapter{
		guard:        opts.Guard(models.ProviderGoogle),
		calendarID:   creds[models.CredentialCalendarID],
		channelToken: creds[models.CredentialWebhookSecret],
		anchor:       opts.Anchor,
		logger:       zerolog.Nop(),
	}
	if a.calendarID == "" {
		a.calendarID = defaultCalendar
	}
	if opts.Logger != nil {
		a.logger = opts.Logger.With().Str("provider", models.ProviderGoogle).Logger()
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, opts.Client())
	token := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	a.tokens = conf.TokenSource(ctx, token)
	httpClient := oauth2.NewClient(ctx, a.tokens)

	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if base := opts.BaseURL(models.ProviderGoogle, ""); base != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(base))
	}
	if v := creds[models.CredentialBaseURL]; v != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(v))
	}
	svc, err := calendar.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, adapters.ConfigError("google calendar client: %v", err)
	}
	a.svc = svc
	return a, nil
}

func (a *Adapter) Provider() string { return models.ProviderGoogle }

// call runs fn under the shared limiter and breaker and converts its error.
func (a *Adapter) call(ctx context.Context, fn func() error) error {
	return a.guard.Do(ctx, func() error {
		err := wrap(fn())
		code := http.StatusOK
		var pe *adapters.ProviderError
		if errors.As(err, &pe) {
			code = pe.StatusCode
		}
		metrics.IncProviderRequest(models.ProviderGoogle, code)
		return err
	})
}

// Authenticate reads the calendar to prove the token works.
func (a *Adapter) Authenticate(ctx context.Context, _ map[string]string) adapters.AuthResult {
	err := a.call(ctx, func() error {
		_, err := a.svc.Calendars.Get(a.calendarID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return adapters.AuthResult{Success: false, Error: err.Error()}
	}
	res := adapters.AuthResult{Success: true}
	if tok, err := a.tokens.Token(); err == nil {
		res.Token, res.ExpiresAt = tok.AccessToken, tok.Expiry
	}
	return res
}

func (a *Adapter) FetchBookings(ctx context.Context, window adapters.DateRange) ([]models.Booking, error) {
	var out []models.Booking
	err := a.call(ctx, func() error {
		out = out[:0]
		return a.svc.Events.List(a.calendarID).
			TimeMin(window.Start.UTC().Format(time.RFC3339)).
			TimeMax(window.End.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(true).
			OrderBy("startTime").
			MaxResults(pageSize).
			Pages(ctx, func(page *calendar.Events) error {
				for _, ev := range page.Items {
					if ev != nil {
						out = append(out, a.toInternal(ev))
					}
				}
				return nil
			})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	var ev *calendar.Event
	err := a.call(ctx, func() (err error) {
		ev, err = a.svc.Events.Get(a.calendarID, id).Context(ctx).Do()
		return err
	})
	if err != nil {
		return models.Booking{}, err
	}
	return a.toInternal(ev), nil
}

// CreateBooking inserts the event under an id derived from the idempotency
// key, so a replayed create finds the event made by the first attempt.
func (a *Adapter) CreateBooking(ctx context.Context, input models.Booking) (models.Booking, error) {
	if err := models.ValidateBooking(input); err != nil {
		return models.Booking{}, err
	}
	ev := a.toExternal(input)
	ev.Id = eventID(adapters.IdempotencyKeyFrom(ctx))

	var created *calendar.Event
	err := a.call(ctx, func() (err error) {
		created, err = a.svc.Events.Insert(a.calendarID, ev).Context(ctx).Do()
		return err
	})

	var pe *adapters.ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusConflict && ev.Id != "" {
		a.logger.Info().Str("event_id", ev.Id).Msg("event already created, reusing it")
		return a.GetBooking(ctx, ev.Id)
	}
	if err != nil {
		return models.Booking{}, err
	}
	return a.toInternal(created), nil
}

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

	var updated *calendar.Event
	err = a.call(ctx, func() (err error) {
		updated, err = a.svc.Events.Update(a.calendarID, id, a.toExternal(next)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return models.Booking{}, err
	}
	return a.toInternal(updated), nil
}

// CancelBooking deletes the event. An event that is already gone counts as cancelled.
func (a *Adapter) CancelBooking(ctx context.Context, id string) error {
	err := a.call(ctx, func() error {
		return a.svc.Events.Delete(a.calendarID, id).Context(ctx).Do()
	})
	var pe *adapters.ProviderError
	if errors.As(err, &pe) && (pe.StatusCode == http.StatusGone || pe.StatusCode == http.StatusNotFound) {
		return nil
	}
	return err
}

// GetAvailability splits the range into slots of params.Duration (one hour by
// default) and marks those overlapping a busy period as unavailable.
func (a *Adapter) GetAvailability(ctx context.Context, p adapters.AvailabilityParams) ([]models.TimeSlot, error) {
	req := &calendar.FreeBusyRequest{
		TimeMin: p.Start.UTC().Format(time.RFC3339),
		TimeMax: p.End.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: a.calendarID}},
	}
	var resp *calendar.FreeBusyResponse
	err := a.call(ctx, func() (err error) {
		resp, err = a.svc.Freebusy.Query(req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	type period struct{ start, end time.Time }
	var busy []period
	if cal, ok := resp.Calendars[a.calendarID]; ok {
		for _, b := range cal.Busy {
			if b == nil {
				continue
			}
			busy = append(busy, period{a.anchor.ParseOrZero(b.Start), a.anchor.ParseOrZero(b.End)})
		}
	}

	step := p.Duration
	if step <= 0 {
		step = time.Hour
	}
	var slots []models.TimeSlot
	for s := p.Start.UTC(); !s.Add(step).After(p.End.UTC()); s = s.Add(step) {
		e := s.Add(step)
		free := true
		for _, b := range busy {
			if s.Before(b.end) && b.start.Before(e) {
				free = false
				break
			}
		}
		slots = append(slots, models.TimeSlot{Start: s, End: e, Available: free})
	}
	return slots, nil
}

// SetupWebhook opens a push channel on the calendar's events. The channel
// token is the shared secret echoed back in every notification.
func (a *Adapter) SetupWebhook(ctx context.Context, callbackURL string) (models.WebhookConfig, error) {
	token := a.channelToken
	if token == "" {
		token = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	ch := &calendar.Channel{
		Id:      uuid.NewString(),
		Type:    "web_hook",
		Address: callbackURL,
		Token:   token,
	}

	var created *calendar.Channel
	err := a.call(ctx, func() (err error) {
		created, err = a.svc.Events.Watch(a.calendarID, ch).Context(ctx).Do()
		return err
	})
	if err != nil {
		return models.WebhookConfig{}, err
	}
	a.channelToken = token
	return models.WebhookConfig{
		ID:         created.Id,
		URL:        callbackURL,
		Secret:     token,
		ResourceID: created.ResourceId,
		ExpiresAt:  created.Expiration,
	}, nil
}

// Classify adds Google's quota reasons, which arrive as 403, to the shared rules.
func (a *Adapter) Classify(err error) adapters.Failure {
	var pe *adapters.ProviderError
	if errors.As(err, &pe) {
		switch pe.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return adapters.Failure{Class: adapters.ClassRateLimited, RetryAfter: pe.RetryAfter}
		}
	}
	return adapters.Classify(err)
}

// wrap converts client library errors into ProviderError.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		pe := &adapters.ProviderError{
			Provider:   models.ProviderGoogle,
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Err:        err,
		}
		if len(gerr.Errors) > 0 {
			pe.Reason = gerr.Errors[0].Reason
		}
		if gerr.Header != nil {
			pe.RetryAfter = adapters.ParseRetryAfter(gerr.Header.Get("Retry-After"), time.Now())
		}
		return pe
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return &adapters.ProviderError{
			Provider:   models.ProviderGoogle,
			StatusCode: rerr.Response.StatusCode,
			Message:    "token refresh: " + rerr.ErrorCode,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &adapters.ProviderError{Provider: models.ProviderGoogle, Message: "request aborted", Err: err}
	}
	return &adapters.ProviderError{Provider: models.ProviderGoogle, Message: "request failed", Err: err}
}
