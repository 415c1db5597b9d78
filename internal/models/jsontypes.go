package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is the opaque provider bag stored as JSON text.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *Metadata) Scan(src interface{}) error {
	data, err := scanBytes(src)
	if err != nil || len(data) == 0 {
		*m = Metadata{}
		return err
	}
	out := Metadata{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	*m = out
	return nil
}

// SyncSettings is the per-integration sync configuration.
type SyncSettings struct {
	SyncIntervalMinutes int    `json:"sync_interval_minutes"`
	Timezone            string `json:"timezone,omitempty"`
}

// Interval returns the configured interval or the fallback in minutes.
func (s SyncSettings) Interval(fallback int) int {
	if s.SyncIntervalMinutes > 0 {
		return s.SyncIntervalMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultSyncIntervalMinutes
}

func (s SyncSettings) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *SyncSettings) Scan(src interface{}) error {
	data, err := scanBytes(src)
	if err != nil || len(data) == 0 {
		*s = SyncSettings{}
		return err
	}
	return json.Unmarshal(data, s)
}

// WebhookConfig is what a provider returned when a webhook was registered.
type WebhookConfig struct {
	ID         string `json:"id,omitempty"`
	URL        string `json:"url"`
	Secret     string `json:"secret,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	ExpiresAt  int64  `json:"expires_at,omitempty"`
}

// WebhookSettings wraps an optional WebhookConfig column.
type WebhookSettings struct {
	Config *WebhookConfig
}

func (w WebhookSettings) Value() (driver.Value, error) {
	if w.Config == nil {
		return nil, nil
	}
	data, err := json.Marshal(w.Config)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (w *WebhookSettings) Scan(src interface{}) error {
	data, err := scanBytes(src)
	if err != nil || len(data) == 0 {
		w.Config = nil
		return err
	}
	var cfg WebhookConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("decode webhook config: %w", err)
	}
	w.Config = &cfg
	return nil
}

func scanBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
