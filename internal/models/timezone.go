package models

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// zoneLessLayouts are tried when a provider value carries no offset.
var zoneLessLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// AnchorZone is the single reference zone used to interpret provider local times.
// The zero value anchors to UTC.
type AnchorZone struct {
	loc *time.Location
}

// NewAnchorZone loads an IANA zone name. Empty means UTC.
func NewAnchorZone(name string) (AnchorZone, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return AnchorZone{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return AnchorZone{}, fmt.Errorf("load anchor timezone %q: %w", name, err)
	}
	return AnchorZone{loc: loc}, nil
}

// MustAnchorZone is NewAnchorZone for constants known to be valid.
func MustAnchorZone(name string) AnchorZone {
	z, err := NewAnchorZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

func (a AnchorZone) Location() *time.Location {
	if a.loc == nil {
		return time.UTC
	}
	return a.loc
}

func (a AnchorZone) String() string {
	return a.Location().String()
}

// Parse interprets a provider timestamp. Values with an explicit offset keep it,
// zone-less values are read in the anchor zone. The result is always UTC.
func (a AnchorZone) Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05-0700", value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range zoneLessLayouts {
		if t, err := time.ParseInLocation(layout, value, a.Location()); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// ParseOrZero is Parse that degrades to the zero time.
func (a AnchorZone) ParseOrZero(value string) time.Time {
	t, err := a.Parse(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Format renders t as a zone-less wall time in the anchor zone.
func (a AnchorZone) Format(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.In(a.Location()).Format(layout)
}
