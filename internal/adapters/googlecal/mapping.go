package googlecal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/models"

	"google.golang.org/api/calendar/v3"
)

// Customer fields live in the event's private extended properties.
const (
	propCustomerName  = "customer_name"
	propCustomerEmail = "customer_email"
	propCustomerPhone = "customer_phone"
	propSource        = "bookingsync"
)

func (a *Adapter) ToInternalFormat(external json.RawMessage) (models.Booking, error) {
	var ev calendar.Event
	if err := json.Unmarshal(external, &ev); err != nil {
		return models.Booking{}, fmt.Errorf("decode google event: %w", err)
	}
	return a.toInternal(&ev), nil
}

func (a *Adapter) toInternal(ev *calendar.Event) models.Booking {
	b := models.Booking{
		ExternalID:  ev.Id,
		Title:       ev.Summary,
		Description: ev.Description,
		StartTime:   a.eventTime(ev.Start),
		EndTime:     a.eventTime(ev.End),
		Status:      models.StatusConfirmed,
	}
	switch ev.Status {
	case "cancelled":
		b.Status = models.StatusCancelled
	case "tentative":
		b.Status = models.StatusPending
	}

	if ev.ExtendedProperties != nil {
		meta := map[string]string{}
		for k, v := range ev.ExtendedProperties.Private {
			switch k {
			case propCustomerName:
				b.Customer.Name = v
			case propCustomerEmail:
				b.Customer.Email = v
			case propCustomerPhone:
				b.Customer.Phone = v
			case propSource:
			default:
				meta[k] = v
			}
		}
		if len(meta) > 0 {
			b.Metadata = meta
		}
	}

	if b.Customer.Email == "" {
		for _, at := range ev.Attendees {
			if at == nil || at.Self || at.Organizer {
				continue
			}
			b.Customer.Email = at.Email
			if b.Customer.Name == "" {
				b.Customer.Name = at.DisplayName
			}
			break
		}
	}

	if ev.Updated != "" {
		if t, err := a.anchor.Parse(ev.Updated); err == nil {
			b.UpdatedAt = &t
		}
	}
	return b
}

// eventTime reads a timed or all-day boundary. All-day dates are midnight in
// the anchor zone.
func (a *Adapter) eventTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t.UTC()
		}
		if dt.TimeZone != "" {
			if z, err := models.NewAnchorZone(dt.TimeZone); err == nil {
				return z.ParseOrZero(dt.DateTime)
			}
		}
		return a.anchor.ParseOrZero(dt.DateTime)
	}
	return a.anchor.ParseOrZero(dt.Date)
}

func (a *Adapter) ToExternalFormat(b models.Booking) (json.RawMessage, error) {
	data, err := json.Marshal(a.toExternal(b))
	if err != nil {
		return nil, fmt.Errorf("encode google event: %w", err)
	}
	return data, nil
}

func (a *Adapter) toExternal(b models.Booking) *calendar.Event {
	ev := &calendar.Event{
		Id:          b.ExternalID,
		Summary:     b.Title,
		Description: b.Description,
		Start:       a.dateTime(b.StartTime),
		End:         a.dateTime(b.EndTime),
		Status:      "confirmed",
	}
	switch b.Status {
	case models.StatusCancelled:
		ev.Status = "cancelled"
	case models.StatusPending:
		ev.Status = "tentative"
	}

	private := map[string]string{propSource: "1"}
	for k, v := range b.Metadata {
		private[k] = v
	}
	if b.Customer.Name != "" {
		private[propCustomerName] = b.Customer.Name
	}
	if b.Customer.Email != "" {
		private[propCustomerEmail] = b.Customer.Email
	}
	if b.Customer.Phone != "" {
		private[propCustomerPhone] = b.Customer.Phone
	}
	ev.ExtendedProperties = &calendar.EventExtendedProperties{Private: private}
	return ev
}

func (a *Adapter) dateTime(t time.Time) *calendar.EventDateTime {
	if t.IsZero() {
		return nil
	}
	return &calendar.EventDateTime{
		DateTime: t.In(a.anchor.Location()).Format(time.RFC3339),
		TimeZone: a.anchor.String(),
	}
}

// eventID turns an idempotency key into a valid client-assigned event id
// (base32hex alphabet, 5 to 1024 characters).
func eventID(key string) string {
	key = strings.ToLower(key)
	var b strings.Builder
	for _, r := range key {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'v') {
			b.WriteRune(r)
		}
	}
	if b.Len() < 5 {
		return ""
	}
	return b.String()
}
