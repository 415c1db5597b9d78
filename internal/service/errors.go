package service

import "errors"

var (
	ErrIntegrationDisabled = errors.New("integration is disabled")
	ErrNoIntegration       = errors.New("event is not linked to an integration")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrAlreadyCancelled    = errors.New("event is already cancelled")
)
