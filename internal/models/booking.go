package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidBooking is returned when a booking cannot be sent to a provider.
var ErrInvalidBooking = errors.New("invalid booking")

// Customer is the person a booking is made for.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty"`
}

// Booking is the canonical representation every adapter translates to and from.
type Booking struct {
	ID          string            `json:"id,omitempty"`
	ExternalID  string            `json:"external_id,omitempty"`
	Title       string            `json:"title" validate:"required"`
	Description string            `json:"description,omitempty"`
	StartTime   time.Time         `json:"start_time" validate:"required"`
	EndTime     time.Time         `json:"end_time" validate:"required,gtefield=StartTime"`
	Status      string            `json:"status" validate:"omitempty,oneof=confirmed pending cancelled"`
	Customer    Customer          `json:"customer"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
}

// BookingPatch carries the fields of a partial update. Nil fields are left untouched.
type BookingPatch struct {
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	Status      *string           `json:"status,omitempty"`
	Customer    *Customer         `json:"customer,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PatchFromBooking builds a patch that overwrites every mutable field.
func PatchFromBooking(b Booking) BookingPatch {
	customer := b.Customer
	return BookingPatch{
		Title:       &b.Title,
		Description: &b.Description,
		StartTime:   &b.StartTime,
		EndTime:     &b.EndTime,
		Status:      &b.Status,
		Customer:    &customer,
		Metadata:    b.Metadata,
	}
}

// Apply returns a copy of b with the non-nil patch fields applied.
func (p BookingPatch) Apply(b Booking) Booking {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.StartTime != nil {
		b.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		b.EndTime = *p.EndTime
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.Customer != nil {
		b.Customer = *p.Customer
	}
	if len(p.Metadata) > 0 {
		merged := make(map[string]string, len(b.Metadata)+len(p.Metadata))
		for k, v := range b.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		b.Metadata = merged
	}
	return b
}

// Timestamp is the instant used for last-writer-wins comparison.
func (b Booking) Timestamp() time.Time {
	if b.UpdatedAt != nil && !b.UpdatedAt.IsZero() {
		return *b.UpdatedAt
	}
	return b.StartTime
}

// TimeSlot is a bookable interval reported by a provider.
type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Capacity  int       `json:"capacity,omitempty"`
}

var validate = validator.New()

// ValidateBooking checks the fields a provider needs to accept a booking.
func ValidateBooking(b Booking) error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}
	return nil
}

// NormalizeStatus maps provider vocabularies onto confirmed, pending or cancelled.
func NormalizeStatus(s string) string {
	switch s {
	case StatusConfirmed, "accepted", "approved", "active", "booked":
		return StatusConfirmed
	case StatusCancelled, "canceled", "deleted", "declined", "rejected":
		return StatusCancelled
	case "":
		return StatusConfirmed
	default:
		return StatusPending
	}
}
