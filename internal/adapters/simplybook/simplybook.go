// Package simplybook integrates the SimplyBook.me admin REST API (v2).
package simplybook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/models"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://user-api-v2.simplybook.me"

	headerCompany   = "X-Company-Login"
	headerToken     = "X-Token"
	headerSignature = "X-Simplybook-Signature"

	authPath = "/admin/auth"
	pageSize = 100
	dateOnly = "2006-01-02"
)

// Adapter talks to one SimplyBook company with an admin login.
type Adapter struct {
	client          *adapters.RESTClient
	tokens          *cache.Cache
	company         string
	login           string
	password        string
	webhookSecret   string
	defaultService  string
	defaultProvider string
	anchor          models.AnchorZone
	logger          zerolog.Logger

	mu    sync.RWMutex
	token string
}

var _ adapters.Adapter = (*Adapter)(nil)

// New is the factory builder for SimplyBook.
func New(creds map[string]string, opts adapters.Options) (adapters.Adapter, error) {
	a := &Adapter{
		tokens:          opts.Tokens(),
		company:         creds[models.CredentialCompany],
		login:           creds[models.CredentialLogin],
		password:        creds[models.CredentialPassword],
		webhookSecret:   creds[models.CredentialWebhookSecret],
		defaultService:  creds[models.CredentialServiceID],
		defaultProvider: creds[models.CredentialProviderID],
		anchor:          opts.Anchor,
		logger:          zerolog.Nop(),
	}
	if a.company == "" || a.login == "" || a.password == "" {
		return nil, adapters.ConfigError("simplybook requires %s, %s and %s",
			models.CredentialCompany, models.CredentialLogin, models.CredentialPassword)
	}
	if opts.Logger != nil {
		a.logger = opts.Logger.With().Str("provider", models.ProviderSimplyBook).Logger()
	}

	base := opts.BaseURL(models.ProviderSimplyBook, DefaultBaseURL)
	if v := creds[models.CredentialBaseURL]; v != "" {
		base = v
	}
	a.client = opts.NewRESTClient(models.ProviderSimplyBook, base, a.decorate)
	return a, nil
}

func (a *Adapter) decorate(r *http.Request) {
	r.Header.Set(headerCompany, a.company)
	if strings.HasSuffix(r.URL.Path, authPath) {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token != "" {
		r.Header.Set(headerToken, a.token)
	}
}

func (a *Adapter) cacheKey() string {
	return "simplybook:" + a.company + ":" + a.login
}

func (a *Adapter) Provider() string { return models.ProviderSimplyBook }

// Authenticate exchanges company, login and password for an admin token.
// Non-empty creds override the ones the adapter was built with.
func (a *Adapter) Authenticate(ctx context.Context, creds map[string]string) adapters.AuthResult {
	req := authRequest{Company: a.company, Login: a.login, Password: a.password}
	if v := creds[models.CredentialCompany]; v != "" {
		req.Company = v
	}
	if v := creds[models.CredentialLogin]; v != "" {
		req.Login = v
	}
	if v := creds[models.CredentialPassword]; v != "" {
		req.Password = v
	}

	token, err := a.signIn(ctx, req)
	if err != nil {
		return adapters.AuthResult{Success: false, Error: err.Error()}
	}
	return adapters.AuthResult{Success: true, Token: token}
}

func (a *Adapter) signIn(ctx context.Context, req authRequest) (string, error) {
	var resp authResponse
	if err := a.client.Do(ctx, http.MethodPost, authPath, nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &adapters.ProviderError{Provider: models.ProviderSimplyBook, StatusCode: http.StatusUnauthorized, Message: "login returned no token"}
	}
	return resp.Token, nil
}

// ensureToken loads a cached token or logs in.
func (a *Adapter) ensureToken(ctx context.Context, force bool) error {
	if !force {
		a.mu.RLock()
		has := a.token != ""
		a.mu.RUnlock()
		if has {
			return nil
		}
		if v, ok := a.tokens.Get(a.cacheKey()); ok {
			a.setToken(v.(string))
			return nil
		}
	}

	a.tokens.Delete(a.cacheKey())
	token, err := a.signIn(ctx, authRequest{Company: a.company, Login: a.login, Password: a.password})
	if err != nil {
		return err
	}
	a.setToken(token)
	a.tokens.Set(a.cacheKey(), token, cache.DefaultExpiration)
	return nil
}

func (a *Adapter) setToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// call runs one authenticated request, logging in again once if the token expired.
func (a *Adapter) call(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	if err := a.ensureToken(ctx, false); err != nil {
		return err
	}
	err := a.client.Do(ctx, method, path, q, body, out)
	var pe *adapters.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusUnauthorized {
		return err
	}

	a.logger.Debug().Msg("token rejected, logging in again")
	if err := a.ensureToken(ctx, true); err != nil {
		return err
	}
	return a.client.Do(ctx, method, path, q, body, out)
}

func (a *Adapter) FetchBookings(ctx context.Context, window adapters.DateRange) ([]models.Booking, error) {
	var out []models.Booking
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("filter[date_from]", a.anchor.Format(window.Start, dateOnly))
		q.Set("filter[date_to]", a.anchor.Format(window.End, dateOnly))
		q.Set("page", strconv.Itoa(page))
		q.Set("on_page", strconv.Itoa(pageSize))

		var list bookingList
		if err := a.call(ctx, http.MethodGet, "/admin/bookings", q, nil, &list); err != nil {
			return nil, err
		}
		for _, raw := range list.Data {
			b, err := a.ToInternalFormat(raw)
			if err != nil {
				a.logger.Warn().Err(err).Msg("skip undecodable booking")
				continue
			}
			if !b.StartTime.IsZero() && (b.StartTime.Before(window.Start) || !b.StartTime.Before(window.End)) {
				continue
			}
			out = append(out, b)
		}
		if page >= list.Metadata.PagesCount {
			return out, nil
		}
	}
}

func (a *Adapter) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	var ext booking
	if err := a.call(ctx, http.MethodGet, "/admin/bookings/"+url.PathEscape(id), nil, nil, &ext); err != nil {
		return models.Booking{}, err
	}
	return a.toInternal(ext), nil
}

func (a *Adapter) CreateBooking(ctx context.Context, input models.Booking) (models.Booking, error) {
	if err := models.ValidateBooking(input); err != nil {
		return models.Booking{}, err
	}
	req, err := a.request(input)
	if err != nil {
		return models.Booking{}, err
	}

	var resp createResponse
	if err := a.call(ctx, http.MethodPost, "/admin/bookings", nil, req, &resp); err != nil {
		return models.Booking{}, err
	}
	if len(resp.Bookings) == 0 || resp.Bookings[0].ID == "" {
		return models.Booking{}, &adapters.ProviderError{Provider: models.ProviderSimplyBook, Message: "create returned no booking"}
	}

	created := a.toInternal(resp.Bookings[0])
	if created.StartTime.IsZero() {
		id := created.ExternalID
		created = input
		created.ExternalID = id
	}
	return created, nil
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
	req, err := a.request(next)
	if err != nil {
		return models.Booking{}, err
	}

	var updated booking
	if err := a.call(ctx, http.MethodPut, "/admin/bookings/"+url.PathEscape(id), nil, req, &updated); err != nil {
		return models.Booking{}, err
	}
	if updated.ID == "" {
		return next, nil
	}
	return a.toInternal(updated), nil
}

func (a *Adapter) CancelBooking(ctx context.Context, id string) error {
	err := a.call(ctx, http.MethodDelete, "/admin/bookings/"+url.PathEscape(id), nil, nil, nil)
	var pe *adapters.ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// GetAvailability reads free slots from the timeline of one service.
func (a *Adapter) GetAvailability(ctx context.Context, p adapters.AvailabilityParams) ([]models.TimeSlot, error) {
	serviceID := p.ServiceID
	if serviceID == "" {
		serviceID = a.defaultService
	}
	if serviceID == "" {
		return nil, fmt.Errorf("%w: simplybook availability needs a service id", models.ErrInvalidBooking)
	}

	q := url.Values{}
	q.Set("date_from", a.anchor.Format(p.Start, dateOnly))
	q.Set("date_to", a.anchor.Format(p.End, dateOnly))
	q.Set("service_id", serviceID)
	if a.defaultProvider != "" {
		q.Set("provider_id", a.defaultProvider)
	}

	var slots []slot
	if err := a.call(ctx, http.MethodGet, "/admin/timeline/slots", q, nil, &slots); err != nil {
		return nil, err
	}

	duration := p.Duration
	if duration <= 0 {
		duration = time.Hour
	}
	out := make([]models.TimeSlot, 0, len(slots))
	for _, s := range slots {
		start, err := a.anchor.Parse(s.Date + " " + s.Time)
		if err != nil {
			continue
		}
		out = append(out, models.TimeSlot{
			Start:     start,
			End:       start.Add(duration),
			Available: s.Count > 0,
			Capacity:  s.Count,
		})
	}
	return out, nil
}

func (a *Adapter) SignatureHeader() string { return headerSignature }

// SetupWebhook issues the signing secret for callbackURL. SimplyBook callbacks
// are configured in the company's API plugin, so nothing is registered remotely.
func (a *Adapter) SetupWebhook(_ context.Context, callbackURL string) (models.WebhookConfig, error) {
	secret := a.webhookSecret
	if secret == "" {
		secret = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	a.logger.Info().Str("callback_url", callbackURL).Msg("configure this callback url in the simplybook api plugin")
	return models.WebhookConfig{URL: callbackURL, Secret: secret}, nil
}

func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	return adapters.VerifyHMAC(a.webhookSecret, payload, signature)
}

// ParseWebhookEvent reads a callback. The booking itself is fetched later by id.
func (a *Adapter) ParseWebhookEvent(payload []byte) (adapters.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return adapters.WebhookEvent{}, fmt.Errorf("%w: simplybook callback: %v", adapters.ErrMalformedPayload, err)
	}

	ev := adapters.WebhookEvent{ExternalID: string(n.BookingID)}
	switch n.NotificationType {
	case "create":
		ev.Type = adapters.EventCreated
	case "change":
		ev.Type = adapters.EventUpdated
	case "cancel":
		ev.Type = adapters.EventCancelled
	default:
		ev.Type = adapters.EventIgnored
	}
	if ev.ExternalID == "" && ev.Type != adapters.EventIgnored {
		return adapters.WebhookEvent{}, fmt.Errorf("%w: simplybook callback without booking_id", adapters.ErrMalformedPayload)
	}
	return ev, nil
}

func (a *Adapter) Classify(err error) adapters.Failure {
	return adapters.Classify(err)
}
