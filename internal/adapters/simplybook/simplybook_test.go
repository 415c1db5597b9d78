package simplybook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = map[string]string{
	models.CredentialCompany:       "acme",
	models.CredentialLogin:         "admin",
	models.CredentialPassword:      "pw",
	models.CredentialServiceID:     "3",
	models.CredentialProviderID:    "7",
	models.CredentialWebhookSecret: "hook",
}

type fakeAPI struct {
	logins  int32
	token   string
	handler http.HandlerFunc
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == authPath {
		atomic.AddInt32(&f.logins, 1)
		_ = json.NewEncoder(w).Encode(authResponse{Token: f.token})
		return
	}
	if r.Header.Get(headerToken) != f.token || r.Header.Get(headerCompany) != "acme" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.handler(w, r)
}

func newTestAdapter(t *testing.T, api *fakeAPI, opts adapters.Options) *Adapter {
	t.Helper()
	if api.token == "" {
		api.token = "tok-1"
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts.BaseURLs = map[string]string{models.ProviderSimplyBook: srv.URL}
	a, err := New(testCreds, opts)
	require.NoError(t, err)
	return a.(*Adapter)
}

func TestNewRequiresLogin(t *testing.T) {
	_, err := New(map[string]string{models.CredentialCompany: "acme"}, adapters.Options{})
	assert.True(t, errors.Is(err, adapters.ErrConfiguration))
}

func TestFlexID(t *testing.T) {
	var b booking
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"client_id":"9"}`), &b))
	assert.Equal(t, flexID("42"), b.ID)
	assert.Equal(t, flexID("9"), b.ClientID)

	out, err := json.Marshal(bookingRequest{ServiceID: "3", ProviderID: "x"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"service_id":3`)
	assert.Contains(t, string(out), `"provider_id":"x"`)
}

func TestFetchBookingsAuthenticatesOnce(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("filter[date_from]"))
		_, _ = w.Write([]byte(`{"data":[{"id":5,"code":"abc","start_datetime":"2024-01-10 10:00:00",` +
			`"end_datetime":"2024-01-10 11:00:00","status":"confirmed","service":{"id":3,"name":"Massage"},` +
			`"client":{"id":9,"name":"Anna","email":"anna@example.com"}}],"metadata":{"pages_count":1}}`))
	}}
	a := newTestAdapter(t, api, adapters.Options{})

	window := adapters.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 2; i++ {
		got, err := a.FetchBookings(context.Background(), window)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "5", got[0].ExternalID)
		assert.Equal(t, "Massage", got[0].Title)
		assert.Equal(t, "Anna", got[0].Customer.Name)
		assert.Equal(t, "9", got[0].Metadata[metaClientID])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&api.logins))
}

func TestExpiredTokenIsRenewed(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":5,"start_datetime":"2024-01-10 10:00:00"}`))
	}}
	a := newTestAdapter(t, api, adapters.Options{})
	a.setToken("stale")

	got, err := a.GetBooking(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "5", got.ExternalID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&api.logins))
}

func TestZoneLessTimesUseAnchor(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":5,"start_datetime":"2024-07-01 12:00:00","end_datetime":"2024-07-01 13:00:00"}`))
	}}
	a := newTestAdapter(t, api, adapters.Options{Anchor: models.MustAnchorZone("Europe/Moscow")})

	got, err := a.GetBooking(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC), got.StartTime)

	raw, err := a.ToExternalFormat(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"start_datetime":"2024-07-01 12:00:00"`)
}

func TestCreateBooking(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "idem", r.Header.Get("Idempotency-Key"))
		var req bookingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, flexID("3"), req.ServiceID)
		assert.Equal(t, flexID("7"), req.ProviderID)
		assert.Equal(t, 1, req.Count)
		_, _ = w.Write([]byte(`{"bookings":[{"id":77,"code":"x1"}]}`))
	}}
	a := newTestAdapter(t, api, adapters.Options{})

	start := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	ctx := adapters.WithIdempotencyKey(context.Background(), "idem")
	got, err := a.CreateBooking(ctx, models.Booking{Title: "Massage", StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "77", got.ExternalID)
	assert.Equal(t, "Massage", got.Title)
}

func TestCreateBookingWithoutServiceIsTerminal(t *testing.T) {
	creds := map[string]string{
		models.CredentialCompany:  "acme",
		models.CredentialLogin:    "admin",
		models.CredentialPassword: "pw",
	}
	a, err := New(creds, adapters.Options{BaseURLs: map[string]string{models.ProviderSimplyBook: "http://127.0.0.1:1"}})
	require.NoError(t, err)

	start := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	_, err = a.CreateBooking(context.Background(), models.Booking{Title: "x", StartTime: start, EndTime: start})
	require.Error(t, err)
	assert.Equal(t, adapters.ClassTerminal, a.Classify(err).Class)
}

func TestServerErrorIsTransient(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}}
	a := newTestAdapter(t, api, adapters.Options{})

	err := a.CancelBooking(context.Background(), "5")
	require.Error(t, err)
	assert.Equal(t, adapters.ClassTransient, a.Classify(err).Class)
}

func TestParseWebhookEvent(t *testing.T) {
	a, err := New(testCreds, adapters.Options{})
	require.NoError(t, err)

	tests := []struct {
		payload  string
		wantType string
	}{
		{`{"booking_id":"5","notification_type":"create"}`, adapters.EventCreated},
		{`{"booking_id":5,"notification_type":"change"}`, adapters.EventUpdated},
		{`{"booking_id":"5","notification_type":"cancel"}`, adapters.EventCancelled},
		{`{"booking_id":"5","notification_type":"notify"}`, adapters.EventIgnored},
	}
	for _, tt := range tests {
		ev, err := a.ParseWebhookEvent([]byte(tt.payload))
		require.NoError(t, err)
		assert.Equal(t, tt.wantType, ev.Type)
		assert.Equal(t, "5", ev.ExternalID)
		assert.Empty(t, ev.Booking)
	}

	_, err = a.ParseWebhookEvent([]byte(`{"notification_type":"create"}`))
	assert.True(t, errors.Is(err, adapters.ErrMalformedPayload))
}

func TestVerifyWebhook(t *testing.T) {
	a, err := New(testCreds, adapters.Options{})
	require.NoError(t, err)
	body := []byte(`{"booking_id":"5","notification_type":"create"}`)

	assert.True(t, a.VerifyWebhook(body, adapters.SignHMAC("hook", body)))
	assert.False(t, a.VerifyWebhook(body, adapters.SignHMAC("pw", body)))
	assert.Equal(t, headerSignature, a.SignatureHeader())
}

func TestSetupWebhookIssuesSecret(t *testing.T) {
	creds := map[string]string{
		models.CredentialCompany:  "acme",
		models.CredentialLogin:    "admin",
		models.CredentialPassword: "pw",
	}
	a, err := New(creds, adapters.Options{})
	require.NoError(t, err)

	cfg, err := a.SetupWebhook(context.Background(), "https://sync.example.com/webhooks/i1")
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com/webhooks/i1", cfg.URL)
	assert.Len(t, cfg.Secret, 32)
}

func TestMappingRoundTrip(t *testing.T) {
	// Stockholm moves to summer time at 01:00Z on 2024-03-31
	start := time.Date(2024, 3, 31, 0, 30, 0, 0, time.UTC)
	in := models.Booking{
		ExternalID:  "41",
		Title:       "Massage",
		Description: "back",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Status:      models.StatusConfirmed,
		Customer:    models.Customer{Name: "Anna", Email: "anna@example.com", Phone: "+46"},
	}

	for _, zone := range []string{"UTC", "Europe/Stockholm"} {
		t.Run(zone, func(t *testing.T) {
			a := newTestAdapter(t, &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request) {}},
				adapters.Options{Anchor: models.MustAnchorZone(zone)})

			raw, err := a.ToExternalFormat(in)
			require.NoError(t, err)
			if zone == "Europe/Stockholm" {
				assert.Contains(t, string(raw), `"start_datetime":"2024-03-31 01:30:00"`)
				assert.Contains(t, string(raw), `"end_datetime":"2024-03-31 03:30:00"`)
			}

			out, err := a.ToInternalFormat(raw)
			require.NoError(t, err)
			assert.Equal(t, in.ExternalID, out.ExternalID)
			assert.Equal(t, in.Title, out.Title)
			assert.Equal(t, in.Status, out.Status)
			assert.Equal(t, in.Customer.Name, out.Customer.Name)
			assert.True(t, in.StartTime.Equal(out.StartTime), "start %s", out.StartTime)
			assert.True(t, in.EndTime.Equal(out.EndTime), "end %s", out.EndTime)
		})
	}
}
