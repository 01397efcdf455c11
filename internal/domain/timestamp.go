package domain

import (
	"fmt"
	"strings"
	"time"
)

// customerTimestampLayouts are tried in order; zone-less layouts are read as UTC.
var customerTimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseCustomerTimestamp reads the caller-provided submission time.
func ParseCustomerTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("customer timestamp is empty")
	}
	for _, layout := range customerTimestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("customer timestamp %q is not a recognised date-time", raw)
}

// FormatTimestamp renders t as RFC 3339 UTC with second precision, e.g. 2000-03-09T17:33:29Z.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// DeriveTimestamps computes the record timestamps from the customer's logical time.
// Wall-clock time is never consulted so callbacks stay reproducible.
func DeriveTimestamps(customer time.Time, createdOffset, receivedOffset time.Duration) (created, receivedByRecipient time.Time) {
	created = customer.UTC().Add(createdOffset).Truncate(time.Second)
	receivedByRecipient = created.Add(receivedOffset)
	return created, receivedByRecipient
}
