package simplybook

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// flexID accepts ids SimplyBook sends either as numbers or as strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(f))
}

type authRequest struct {
	Company  string `json:"company"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

type authResponse struct {
	Token        string `json:"token"`
	Company      string `json:"company"`
	Login        string `json:"login"`
	RefreshToken string `json:"refresh_token"`
}

type client struct {
	ID    flexID `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type service struct {
	ID   flexID `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// booking is the admin API v2 booking resource.
type booking struct {
	ID            flexID   `json:"id,omitempty"`
	Code          string   `json:"code,omitempty"`
	StartDatetime string   `json:"start_datetime,omitempty"`
	EndDatetime   string   `json:"end_datetime,omitempty"`
	ServiceID     flexID   `json:"service_id,omitempty"`
	ProviderID    flexID   `json:"provider_id,omitempty"`
	ClientID      flexID   `json:"client_id,omitempty"`
	Client        *client  `json:"client,omitempty"`
	Service       *service `json:"service,omitempty"`
	Status        string   `json:"status,omitempty"`
	IsConfirmed   *bool    `json:"is_confirmed,omitempty"`
	Comment       string   `json:"comment,omitempty"`
	RecordDate    string   `json:"record_date,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

// bookingRequest is the body of create and edit calls.
type bookingRequest struct {
	Count         int     `json:"count"`
	StartDatetime string  `json:"start_datetime"`
	EndDatetime   string  `json:"end_datetime,omitempty"`
	ServiceID     flexID  `json:"service_id"`
	ProviderID    flexID  `json:"provider_id"`
	ClientID      flexID  `json:"client_id,omitempty"`
	Client        *client `json:"client,omitempty"`
	Comment       string  `json:"comment,omitempty"`
}

type listMetadata struct {
	ItemsCount int `json:"items_count"`
	PagesCount int `json:"pages_count"`
	Page       int `json:"page"`
	OnPage     int `json:"on_page"`
}

type bookingList struct {
	Data     []json.RawMessage `json:"data"`
	Metadata listMetadata      `json:"metadata"`
}

type createResponse struct {
	Bookings []booking `json:"bookings"`
}

type slot struct {
	ID    flexID `json:"id,omitempty"`
	Date  string `json:"date"`
	Time  string `json:"time"`
	Count int    `json:"available_count"`
}

// notification is the callback body SimplyBook posts. It names the booking
// but does not carry it.
type notification struct {
	BookingID        flexID `json:"booking_id"`
	BookingHash      string `json:"booking_hash,omitempty"`
	Company          string `json:"company,omitempty"`
	NotificationType string `json:"notification_type"`
}
