package simplybook

import (
	"encoding/json"
	"fmt"

	"bookingsync/internal/models"
)

// wallClock is the zone-less datetime format of the admin API.
const wallClock = "2006-01-02 15:04:05"

const (
	metaServiceID  = "service_id"
	metaProviderID = "provider_id"
	metaClientID   = "client_id"
	metaCode       = "code"
)

func (a *Adapter) ToInternalFormat(external json.RawMessage) (models.Booking, error) {
	var ext booking
	if err := json.Unmarshal(external, &ext); err != nil {
		return models.Booking{}, fmt.Errorf("decode simplybook booking: %w", err)
	}
	return a.toInternal(ext), nil
}

func (a *Adapter) toInternal(ext booking) models.Booking {
	b := models.Booking{
		ExternalID:  string(ext.ID),
		Description: ext.Comment,
		StartTime:   a.anchor.ParseOrZero(ext.StartDatetime),
		EndTime:     a.anchor.ParseOrZero(ext.EndDatetime),
		Status:      bookingStatus(ext),
	}
	if ext.Service != nil {
		b.Title = ext.Service.Name
	}
	if b.Title == "" && ext.Code != "" {
		b.Title = "Booking " + ext.Code
	}
	if c := ext.Client; c != nil {
		b.Customer = models.Customer{Name: c.Name, Email: c.Email, Phone: c.Phone}
	}

	meta := map[string]string{}
	put := func(k string, v string) {
		if v != "" {
			meta[k] = v
		}
	}
	serviceID := ext.ServiceID
	if serviceID == "" && ext.Service != nil {
		serviceID = ext.Service.ID
	}
	clientID := ext.ClientID
	if clientID == "" && ext.Client != nil {
		clientID = ext.Client.ID
	}
	put(metaServiceID, string(serviceID))
	put(metaProviderID, string(ext.ProviderID))
	put(metaClientID, string(clientID))
	put(metaCode, ext.Code)
	if len(meta) > 0 {
		b.Metadata = meta
	}

	if ext.UpdatedAt != "" {
		if t, err := a.anchor.Parse(ext.UpdatedAt); err == nil {
			b.UpdatedAt = &t
		}
	}
	return b
}

func bookingStatus(ext booking) string {
	switch ext.Status {
	case "canceled", "cancelled":
		return models.StatusCancelled
	case "pending", "confirmed_pending":
		return models.StatusPending
	}
	if ext.IsConfirmed != nil && !*ext.IsConfirmed {
		return models.StatusPending
	}
	return models.StatusConfirmed
}

func (a *Adapter) ToExternalFormat(b models.Booking) (json.RawMessage, error) {
	data, err := json.Marshal(a.toExternal(b))
	if err != nil {
		return nil, fmt.Errorf("encode simplybook booking: %w", err)
	}
	return data, nil
}

func (a *Adapter) toExternal(b models.Booking) booking {
	ext := booking{
		ID:            flexID(b.ExternalID),
		Code:          b.Metadata[metaCode],
		StartDatetime: a.anchor.Format(b.StartTime, wallClock),
		EndDatetime:   a.anchor.Format(b.EndTime, wallClock),
		ServiceID:     flexID(b.Metadata[metaServiceID]),
		ProviderID:    flexID(b.Metadata[metaProviderID]),
		ClientID:      flexID(b.Metadata[metaClientID]),
		Comment:       b.Description,
	}
	switch b.Status {
	case models.StatusCancelled:
		ext.Status = "canceled"
	case models.StatusPending:
		ext.Status = "pending"
	default:
		ext.Status = "confirmed"
	}
	if b.Title != "" {
		ext.Service = &service{ID: ext.ServiceID, Name: b.Title}
	}
	if c := b.Customer; c.Name != "" || c.Email != "" || c.Phone != "" {
		ext.Client = &client{ID: ext.ClientID, Name: c.Name, Email: c.Email, Phone: c.Phone}
	}
	return ext
}

// request builds a create/edit body. Service and provider fall back to the
// integration defaults; without them SimplyBook cannot place the booking.
func (a *Adapter) request(b models.Booking) (bookingRequest, error) {
	ext := a.toExternal(b)
	req := bookingRequest{
		Count:         1,
		StartDatetime: ext.StartDatetime,
		EndDatetime:   ext.EndDatetime,
		ServiceID:     ext.ServiceID,
		ProviderID:    ext.ProviderID,
		ClientID:      ext.ClientID,
		Client:        ext.Client,
		Comment:       ext.Comment,
	}
	if req.ServiceID == "" {
		req.ServiceID = flexID(a.defaultService)
	}
	if req.ProviderID == "" {
		req.ProviderID = flexID(a.defaultProvider)
	}
	if req.ServiceID == "" || req.ProviderID == "" {
		return bookingRequest{}, fmt.Errorf("%w: simplybook needs service_id and provider_id", models.ErrInvalidBooking)
	}
	return req, nil
}
