package bookeo

import "encoding/json"

type phoneNumber struct {
	Number string `json:"number"`
	Type   string `json:"type,omitempty"`
}

type customer struct {
	ID           string        `json:"id,omitempty"`
	Name         string        `json:"name,omitempty"`
	FirstName    string        `json:"firstName,omitempty"`
	LastName     string        `json:"lastName,omitempty"`
	EmailAddress string        `json:"emailAddress,omitempty"`
	PhoneNumbers []phoneNumber `json:"phoneNumbers,omitempty"`
}

// booking is the Bookeo v2 booking resource.
type booking struct {
	BookingNumber  string    `json:"bookingNumber,omitempty"`
	EventID        string    `json:"eventId,omitempty"`
	ProductID      string    `json:"productId,omitempty"`
	ProductName    string    `json:"productName,omitempty"`
	Title          string    `json:"title,omitempty"`
	StartTime      string    `json:"startTime,omitempty"`
	EndTime        string    `json:"endTime,omitempty"`
	Customer       *customer `json:"customer,omitempty"`
	PrivateComment string    `json:"privateComment,omitempty"`
	Canceled       bool      `json:"canceled,omitempty"`
	Accepted       *bool     `json:"accepted,omitempty"`
	CreationTime   string    `json:"creationTime,omitempty"`
	LastChangeTime string    `json:"lastChangeTime,omitempty"`
}

type pageInfo struct {
	TotalItems          int    `json:"totalItems"`
	TotalPages          int    `json:"totalPages"`
	CurrentPage         int    `json:"currentPage"`
	PageNavigationToken string `json:"pageNavigationToken"`
}

type bookingList struct {
	Data []json.RawMessage `json:"data"`
	Info pageInfo          `json:"info"`
}

type slot struct {
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
	NumSeatsAvailable int    `json:"numSeatsAvailable"`
	EventID           string `json:"eventId,omitempty"`
}

type slotList struct {
	Data []slot   `json:"data"`
	Info pageInfo `json:"info"`
}

type webhookRegistration struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Type   string `json:"type"`
}

type webhookCreated struct {
	ID string `json:"id"`
}

// notification is the body Bookeo posts to a webhook URL.
type notification struct {
	Type      string          `json:"type"`
	Domain    string          `json:"domain"`
	ItemID    string          `json:"itemId"`
	Item      json.RawMessage `json:"item"`
	Timestamp string          `json:"timestamp,omitempty"`
}
