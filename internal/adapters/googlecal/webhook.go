package googlecal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"bookingsync/internal/adapters"
)

// Push notification headers.
const (
	headerChannelToken  = "X-Goog-Channel-Token"
	headerChannelID     = "X-Goog-Channel-Id"
	headerResourceID    = "X-Goog-Resource-Id"
	headerResourceState = "X-Goog-Resource-State"
	headerMessageNumber = "X-Goog-Message-Number"
)

// notification is the queued form of a push notification. Google sends the
// state in headers and an empty body.
type notification struct {
	ResourceState string          `json:"resource_state"`
	ResourceID    string          `json:"resource_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	MessageNumber string          `json:"message_number,omitempty"`
	Event         json.RawMessage `json:"event,omitempty"`
}

func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// NormalizeWebhook folds the X-Goog-* headers into a JSON payload.
func (a *Adapter) NormalizeWebhook(headers map[string]string, body []byte) []byte {
	state := header(headers, headerResourceState)
	if state == "" {
		return body
	}
	n := notification{
		ResourceState: state,
		ResourceID:    header(headers, headerResourceID),
		ChannelID:     header(headers, headerChannelID),
		MessageNumber: header(headers, headerMessageNumber),
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && json.Valid(trimmed) {
		n.Event = trimmed
	}
	data, err := json.Marshal(n)
	if err != nil {
		return body
	}
	return data
}

func (a *Adapter) SignatureHeader() string { return headerChannelToken }

// VerifyWebhook compares the channel token set at watch time. Push
// notifications are not signed; the body plays no part.
func (a *Adapter) VerifyWebhook(_ []byte, signature string) bool {
	return adapters.VerifyToken(a.channelToken, signature)
}

// ParseWebhookEvent accepts a normalized push notification or a bare event.
func (a *Adapter) ParseWebhookEvent(payload []byte) (adapters.WebhookEvent, error) {
	var probe struct {
		notification
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return adapters.WebhookEvent{}, fmt.Errorf("%w: google notification: %v", adapters.ErrMalformedPayload, err)
	}

	if probe.ID != "" {
		return eventFromBody(payload, probe.ID, probe.Status), nil
	}
	if len(probe.Event) > 0 {
		var ev struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if json.Unmarshal(probe.Event, &ev) == nil && ev.ID != "" {
			return eventFromBody(probe.Event, ev.ID, ev.Status), nil
		}
	}

	switch probe.ResourceState {
	case "sync", "":
		return adapters.WebhookEvent{Type: adapters.EventIgnored}, nil
	case "exists", "not_exists":
		return adapters.WebhookEvent{Type: adapters.EventResync}, nil
	default:
		return adapters.WebhookEvent{Type: adapters.EventIgnored}, nil
	}
}

func eventFromBody(body []byte, id, status string) adapters.WebhookEvent {
	ev := adapters.WebhookEvent{Type: adapters.EventUpdated, ExternalID: id, Booking: json.RawMessage(body)}
	if status == "cancelled" {
		ev.Type = adapters.EventCancelled
	}
	return ev
}
