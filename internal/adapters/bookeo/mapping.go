package bookeo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/models"
)

const (
	metaProductID   = "product_id"
	metaProductName = "product_name"
	metaEventID     = "event_id"
)

// ToInternalFormat maps a Bookeo booking onto the canonical model.
func (a *Adapter) ToInternalFormat(external json.RawMessage) (models.Booking, error) {
	var ext booking
	if err := json.Unmarshal(external, &ext); err != nil {
		return models.Booking{}, fmt.Errorf("decode bookeo booking: %w", err)
	}
	return a.toInternal(ext), nil
}

func (a *Adapter) toInternal(ext booking) models.Booking {
	b := models.Booking{
		ExternalID:  ext.BookingNumber,
		Title:       ext.Title,
		Description: ext.PrivateComment,
		StartTime:   a.anchor.ParseOrZero(ext.StartTime),
		EndTime:     a.anchor.ParseOrZero(ext.EndTime),
		Status:      models.StatusConfirmed,
	}
	if b.Title == "" {
		b.Title = ext.ProductName
	}

	switch {
	case ext.Canceled:
		b.Status = models.StatusCancelled
	case ext.Accepted != nil && !*ext.Accepted:
		b.Status = models.StatusPending
	}

	if c := ext.Customer; c != nil {
		b.Customer.Name = c.Name
		if b.Customer.Name == "" {
			b.Customer.Name = strings.TrimSpace(c.FirstName + " " + c.LastName)
		}
		b.Customer.Email = c.EmailAddress
		if len(c.PhoneNumbers) > 0 {
			b.Customer.Phone = c.PhoneNumbers[0].Number
		}
	}

	meta := map[string]string{}
	if ext.ProductID != "" {
		meta[metaProductID] = ext.ProductID
	}
	if ext.ProductName != "" {
		meta[metaProductName] = ext.ProductName
	}
	if ext.EventID != "" {
		meta[metaEventID] = ext.EventID
	}
	if len(meta) > 0 {
		b.Metadata = meta
	}

	if ext.LastChangeTime != "" {
		if t, err := a.anchor.Parse(ext.LastChangeTime); err == nil {
			b.UpdatedAt = &t
		}
	}
	return b
}

// ToExternalFormat maps a canonical booking onto the Bookeo shape.
func (a *Adapter) ToExternalFormat(b models.Booking) (json.RawMessage, error) {
	data, err := json.Marshal(a.toExternal(b))
	if err != nil {
		return nil, fmt.Errorf("encode bookeo booking: %w", err)
	}
	return data, nil
}

func (a *Adapter) toExternal(b models.Booking) booking {
	ext := booking{
		BookingNumber:  b.ExternalID,
		Title:          b.Title,
		PrivateComment: b.Description,
		StartTime:      formatTime(a.anchor, b.StartTime),
		EndTime:        formatTime(a.anchor, b.EndTime),
		Canceled:       b.Status == models.StatusCancelled,
		ProductID:      b.Metadata[metaProductID],
		ProductName:    b.Metadata[metaProductName],
		EventID:        b.Metadata[metaEventID],
	}
	if b.Status == models.StatusPending {
		accepted := false
		ext.Accepted = &accepted
	}

	c := b.Customer
	if c.Name != "" || c.Email != "" || c.Phone != "" {
		first, last, _ := strings.Cut(c.Name, " ")
		ext.Customer = &customer{
			Name:         c.Name,
			FirstName:    first,
			LastName:     last,
			EmailAddress: c.Email,
		}
		if c.Phone != "" {
			ext.Customer.PhoneNumbers = []phoneNumber{{Number: c.Phone, Type: "mobile"}}
		}
	}
	return ext
}

func formatTime(anchor models.AnchorZone, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(anchor.Location()).Format(time.RFC3339)
}
