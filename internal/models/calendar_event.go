package models

import "time"

// CalendarEvent is the persisted local projection of a Booking plus sync bookkeeping.
type CalendarEvent struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	IntegrationID  *string    `db:"integration_id" json:"integration_id,omitempty"`
	Source         string     `db:"source" json:"source"`
	ExternalID     *string    `db:"external_id" json:"external_id,omitempty"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description"`
	StartTime      time.Time  `db:"start_time" json:"start_time"`
	EndTime        time.Time  `db:"end_time" json:"end_time"`
	Status         string     `db:"status" json:"status"`
	ContactPerson  string     `db:"contact_person" json:"contact_person"`
	ContactEmail   string     `db:"contact_email" json:"contact_email"`
	ContactPhone   string     `db:"contact_phone" json:"contact_phone"`
	Metadata       Metadata   `db:"metadata" json:"metadata"`
	SyncStatus     string     `db:"sync_status" json:"sync_status"`
	SyncState      string     `db:"sync_state" json:"sync_state"`
	SyncVersion    int64      `db:"sync_version" json:"sync_version"`
	LastSyncedAt   *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	IdempotencyKey *string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ExternalRef returns the provider id or an empty string before first sync.
func (e *CalendarEvent) ExternalRef() string {
	if e.ExternalID == nil {
		return ""
	}
	return *e.ExternalID
}

// ToBooking projects the event onto the canonical model.
func (e *CalendarEvent) ToBooking() Booking {
	updated := e.UpdatedAt
	b := Booking{
		ID:          e.ID,
		ExternalID:  e.ExternalRef(),
		Title:       e.Title,
		Description: e.Description,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		Status:      e.Status,
		Customer: Customer{
			Name:  e.ContactPerson,
			Email: e.ContactEmail,
			Phone: e.ContactPhone,
		},
		UpdatedAt: &updated,
	}
	if len(e.Metadata) > 0 {
		b.Metadata = map[string]string(e.Metadata)
	}
	return b
}

// ApplyBooking copies booking fields onto the event. Sync bookkeeping is untouched.
func (e *CalendarEvent) ApplyBooking(b Booking) {
	e.Title = b.Title
	e.Description = b.Description
	e.StartTime = b.StartTime.UTC()
	e.EndTime = b.EndTime.UTC()
	e.Status = NormalizeStatus(b.Status)
	e.ContactPerson = b.Customer.Name
	e.ContactEmail = b.Customer.Email
	e.ContactPhone = b.Customer.Phone
	if b.Metadata != nil {
		e.Metadata = Metadata(b.Metadata)
	}
	if b.ExternalID != "" {
		ext := b.ExternalID
		e.ExternalID = &ext
	}
}
