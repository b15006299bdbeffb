package fulfillment

import (
	"strings"
	"time"
)

// DateLayout is the canonical delivery date format.
const DateLayout = "2006-01-02"

var acceptedDateLayouts = []string{
	DateLayout,
	"2006/01/02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
}

// NormalizeDeliveryDate parses v in any accepted layout and returns it as
// YYYY-MM-DD. An empty value resolves to today in loc.
func NormalizeDeliveryDate(v string, now time.Time, loc *time.Location) (string, error) {
	v = strings.TrimSpace(v)
	if loc == nil {
		loc = time.UTC
	}
	if v == "" {
		return now.In(loc).Format(DateLayout), nil
	}
	for _, layout := range acceptedDateLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.In(loc).Format(DateLayout), nil
		}
	}
	return "", invalid("deliveryDate", "must be a date in YYYY-MM-DD form")
}
