package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/database"
	"bookingsync/internal/domain"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
)

// WebhookService accepts provider notifications and queues them for the inbound processor.
// Processing never happens on the request path.
type WebhookService struct {
	db      *database.DB
	factory domain.AdapterFactory
	creds   domain.CredentialOpener
	logger  *zerolog.Logger
}

func NewWebhookService(db *database.DB, factory domain.AdapterFactory, creds domain.CredentialOpener, logger *zerolog.Logger) *WebhookService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &WebhookService{db: db, factory: factory, creds: creds, logger: logger}
}

// Receive verifies the notification signature and enqueues a webhook job.
func (s *WebhookService) Receive(ctx context.Context, integrationID string, headers http.Header, body []byte) (*models.SyncJob, error) {
	in, adapter, err := s.adapterFor(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	flat := flattenHeaders(headers)
	signature := headers.Get(adapter.SignatureHeader())
	if !adapter.VerifyWebhook(body, signature) {
		s.logger.Warn().Str("integration_id", in.ID).Str("provider", in.Provider).Msg("Webhook signature rejected")
		return nil, ErrInvalidSignature
	}

	raw := body
	if n, ok := adapter.(adapters.WebhookNormalizer); ok {
		raw = n.NormalizeWebhook(flat, body)
	}

	payload, err := models.EncodePayload(models.InboundPayload{
		Raw:        string(raw),
		Headers:    flat,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	job := &models.SyncJob{
		IntegrationID: in.ID,
		Operation:     models.OperationWebhook,
		Payload:       payload,
		MaxAttempts:   models.DefaultInboundMaxAttempts,
	}
	if err := s.db.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("integration_id", in.ID).Str("job_id", job.ID).Msg("Webhook queued")
	return job, nil
}

// RegisterWebhook subscribes callbackURL at the provider and stores the resulting config.
func (s *WebhookService) RegisterWebhook(ctx context.Context, integrationID, callbackURL string) (models.WebhookConfig, error) {
	in, adapter, err := s.adapterFor(ctx, integrationID)
	if err != nil {
		return models.WebhookConfig{}, err
	}
	cfg, err := adapter.SetupWebhook(ctx, callbackURL)
	if err != nil {
		return models.WebhookConfig{}, err
	}
	if cfg.URL == "" {
		cfg.URL = callbackURL
	}
	if err := s.db.SaveWebhookConfig(ctx, in.ID, cfg); err != nil {
		return models.WebhookConfig{}, err
	}
	s.logger.Info().Str("integration_id", in.ID).Str("provider", in.Provider).Msg("Webhook registered")
	return cfg, nil
}

func (s *WebhookService) adapterFor(ctx context.Context, integrationID string) (*models.Integration, adapters.Adapter, error) {
	in, err := s.db.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, nil, err
	}
	if !in.IsEnabled {
		return nil, nil, ErrIntegrationDisabled
	}
	adapter, err := domain.BuildAdapter(s.factory, s.creds, in)
	if err != nil {
		return nil, nil, err
	}
	return in, adapter, nil
}

// IsClientError reports whether err is caused by the caller rather than by the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrIntegrationDisabled) ||
		errors.Is(err, ErrNoIntegration) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, models.ErrInvalidBooking) ||
		errors.Is(err, adapters.ErrConfiguration) ||
		errors.Is(err, adapters.ErrUnsupportedProvider)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[http.CanonicalHeaderKey(k)] = strings.Join(v, ",")
	}
	return out
}
