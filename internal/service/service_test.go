package service

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/credentials"
	"bookingsync/internal/database"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testProvider = "simplybook"

// mockAdapter mocks the webhook half of an adapter. The booking methods are
// never reached from the services.
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Provider() string { return testProvider }
func (m *mockAdapter) Authenticate(ctx context.Context, creds map[string]string) adapters.AuthResult {
	return adapters.AuthResult{Success: true}
}
func (m *mockAdapter) FetchBookings(ctx context.Context, window adapters.DateRange) ([]models.Booking, error) {
	return nil, nil
}
func (m *mockAdapter) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	return models.Booking{}, nil
}
func (m *mockAdapter) CreateBooking(ctx context.Context, b models.Booking) (models.Booking, error) {
	return b, nil
}
func (m *mockAdapter) UpdateBooking(ctx context.Context, id string, p models.BookingPatch) (models.Booking, error) {
	return models.Booking{}, nil
}
func (m *mockAdapter) CancelBooking(ctx context.Context, id string) error { return nil }
func (m *mockAdapter) GetAvailability(ctx context.Context, p adapters.AvailabilityParams) ([]models.TimeSlot, error) {
	return nil, adapters.ErrNotSupported
}
func (m *mockAdapter) SignatureHeader() string { return "X-Signature" }
func (m *mockAdapter) SetupWebhook(ctx context.Context, callbackURL string) (models.WebhookConfig, error) {
	args := m.Called(ctx, callbackURL)
	return args.Get(0).(models.WebhookConfig), args.Error(1)
}
func (m *mockAdapter) VerifyWebhook(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}
func (m *mockAdapter) ParseWebhookEvent(payload []byte) (adapters.WebhookEvent, error) {
	return adapters.WebhookEvent{}, nil
}
func (m *mockAdapter) ToInternalFormat(raw json.RawMessage) (models.Booking, error) {
	return models.Booking{}, nil
}
func (m *mockAdapter) ToExternalFormat(b models.Booking) (json.RawMessage, error) {
	return json.Marshal(b)
}
func (m *mockAdapter) Classify(err error) adapters.Failure { return adapters.Classify(err) }

type fixture struct {
	db       *database.DB
	vault    *credentials.Vault
	adapter  *mockAdapter
	calendar *CalendarService
	webhooks *WebhookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	vault, err := credentials.NewVault(make([]byte, 32))
	require.NoError(t, err)

	m := &mockAdapter{}
	factory := adapters.NewFactory(adapters.Options{})
	factory.Register(testProvider, func(creds map[string]string, opts adapters.Options) (adapters.Adapter, error) {
		return m, nil
	})

	return &fixture{
		db:       db,
		vault:    vault,
		adapter:  m,
		calendar: NewCalendarService(db, &logger),
		webhooks: NewWebhookService(db, factory, vault, &logger),
	}
}

func (f *fixture) integration(t *testing.T, enabled bool) *models.Integration {
	t.Helper()
	in := &models.Integration{ID: "int-" + t.Name(), UserID: "user-1", Provider: testProvider, IsEnabled: enabled}
	sealed, err := f.vault.Seal(in.ID, map[string]string{models.CredentialAPIKey: "key"})
	require.NoError(t, err)
	in.EncryptedCredentials = sealed
	require.NoError(t, f.db.CreateIntegration(context.Background(), in))
	return in
}

func sampleBooking() models.Booking {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return models.Booking{
		Title:     "Massage",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Customer:  models.Customer{Name: "Oleg", Email: "oleg@example.com"},
	}
}

func TestCalendarService_CreateEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.integration(t, true)

	b := sampleBooking()
	b.ExternalID = "should-be-dropped"
	ev, job, err := f.calendar.CreateEvent(ctx, in.ID, b)
	require.NoError(t, err)

	assert.Equal(t, testProvider, ev.Source)
	assert.Nil(t, ev.ExternalID)
	assert.Equal(t, models.SyncStatusPending, ev.SyncStatus)

	stored, err := f.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationCreate, stored.Operation)
	require.NotNil(t, stored.EventID)
	assert.Equal(t, ev.ID, *stored.EventID)
	assert.Equal(t, models.DefaultOutboundMaxAttempts, stored.MaxAttempts)
	assert.JSONEq(t, `{"event_id":"`+ev.ID+`"}`, stored.Payload)
}

func TestCalendarService_CreateEventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.integration(t, true)

	b := sampleBooking()
	b.EndTime = b.StartTime.Add(-time.Hour)
	_, _, err := f.calendar.CreateEvent(ctx, in.ID, b)
	assert.ErrorIs(t, err, models.ErrInvalidBooking)

	disabled := &models.Integration{ID: "off", UserID: "user-1", Provider: testProvider}
	require.NoError(t, f.db.CreateIntegration(ctx, disabled))
	_, _, err = f.calendar.CreateEvent(ctx, disabled.ID, sampleBooking())
	assert.ErrorIs(t, err, ErrIntegrationDisabled)

	_, _, err = f.calendar.CreateEvent(ctx, "missing", sampleBooking())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCalendarService_UpdateAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.integration(t, true)

	ev, _, err := f.calendar.CreateEvent(ctx, in.ID, sampleBooking())
	require.NoError(t, err)

	title := "Long massage"
	updated, job, err := f.calendar.UpdateEvent(ctx, ev.ID, models.BookingPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, models.OperationUpdate, job.Operation)

	got, err := f.db.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.Equal(t, "Oleg", got.ContactPerson)

	cancelled, job, err := f.calendar.CancelEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, models.OperationDelete, job.Operation)

	_, _, err = f.calendar.CancelEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestCalendarService_UnlinkedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ev := &models.CalendarEvent{UserID: "user-1", Source: "local", Title: "Solo", StartTime: start, EndTime: start.Add(time.Hour)}
	require.NoError(t, f.db.CreateEvent(ctx, ev))

	_, _, err := f.calendar.CancelEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, ErrNoIntegration)
	title := "x"
	_, _, err = f.calendar.UpdateEvent(ctx, ev.ID, models.BookingPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNoIntegration)
}

func TestWebhookService_Receive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.integration(t, true)
	body := []byte(`{"notification_type":"create","booking_id":"42"}`)

	f.adapter.On("VerifyWebhook", body, "sig").Return(true).Once()

	headers := http.Header{}
	headers.Set("X-Signature", "sig")
	headers.Set("Content-Type", "application/json")
	job, err := f.webhooks.Receive(ctx, in.ID, headers, body)
	require.NoError(t, err)

	stored, err := f.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationWebhook, stored.Operation)
	assert.Equal(t, 3, stored.MaxAttempts)
	assert.Nil(t, stored.EventID)

	var payload models.InboundPayload
	require.NoError(t, json.Unmarshal([]byte(stored.Payload), &payload))
	assert.Equal(t, string(body), payload.Raw)
	assert.Equal(t, "sig", payload.Headers["X-Signature"])
	assert.False(t, payload.ReceivedAt.IsZero())
	f.adapter.AssertExpectations(t)
}

func TestWebhookService_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.integration(t, true)
	body := []byte(`{}`)

	f.adapter.On("VerifyWebhook", body, "").Return(false).Once()

	_, err := f.webhooks.Receive(ctx, in.ID, http.Header{}, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.True(t, IsClientError(err))

	jobs, err := f.db.ClaimJobs(ctx, []string{models.OperationWebhook}, 10, time.Minute, "test")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestWebhookService_UnknownIntegration(t *testing.T) {
	f := newFixture(t)
	_, err := f.webhooks.Receive(context.Background(), "nope", http.Header{}, nil)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestWebhookService_RegisterWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.integration(t, true)
	url := "https://sync.example.com/webhooks/" + in.ID

	f.adapter.On("SetupWebhook", mock.Anything, url).
		Return(models.WebhookConfig{ID: "hook-1", Secret: "s3cret"}, nil).Once()

	cfg, err := f.webhooks.RegisterWebhook(ctx, in.ID, url)
	require.NoError(t, err)
	assert.Equal(t, url, cfg.URL)

	stored, err := f.db.GetIntegration(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Webhook.Config)
	assert.Equal(t, "hook-1", stored.Webhook.Config.ID)
	assert.Equal(t, "s3cret", stored.Webhook.Config.Secret)
}
