package pricing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DisplayLayout is the localized day format used for display.
const DisplayLayout = "02.01.2006"

// isoLayouts are tried in order when the text carries no '.' separator.
var isoLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// CalendarDate is a day value independent of the textual form it was read from.
// The zero value is an invalid date.
type CalendarDate struct {
	day   time.Time
	valid bool
	text  string
}

// NewCalendarDate builds a valid date from its parts. Out-of-range parts are
// normalized the way time.Date does.
func NewCalendarDate(year int, month time.Month, day int) CalendarDate {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return CalendarDate{day: t, valid: true, text: t.Format(DisplayLayout)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) CalendarDate {
	return NewCalendarDate(t.Year(), t.Month(), t.Day())
}

// ParseDate reads DD.MM.YYYY or ISO text. Unparsable text yields an invalid
// date that keeps the original text; it never fails.
func ParseDate(text string) CalendarDate {
	raw := strings.TrimSpace(text)
	if strings.Contains(raw, ".") {
		parts := strings.Split(raw, ".")
		if len(parts) == 3 {
			return parseDotted(text, parts)
		}
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			d := NewCalendarDate(t.Year(), t.Month(), t.Day())
			d.text = text
			return d
		}
	}
	return CalendarDate{text: text}
}

func parseDotted(text string, parts []string) CalendarDate {
	day, errDay := strconv.Atoi(parts[0])
	month, errMonth := strconv.Atoi(parts[1])
	year, errYear := strconv.Atoi(parts[2])
	if errDay != nil || errMonth != nil || errYear != nil {
		return CalendarDate{text: text}
	}
	d := NewCalendarDate(year, time.Month(month), day)
	d.text = text
	return d
}

// Valid reports whether the date was parsed successfully.
func (d CalendarDate) Valid() bool { return d.valid }

// Time returns the day start in UTC. It is the zero time for invalid dates.
func (d CalendarDate) Time() time.Time { return d.day }

// Text returns the source text the date was parsed from.
func (d CalendarDate) Text() string { return d.text }

// Compare orders dates ascending; invalid dates sort after every valid date
// and among themselves by source text.
func (d CalendarDate) Compare(other CalendarDate) int {
	switch {
	case !d.valid && !other.valid:
		return strings.Compare(d.text, other.text)
	case !d.valid:
		return 1
	case !other.valid:
		return -1
	}
	return d.day.Compare(other.day)
}

// Equal reports whether both values denote the same day.
func (d CalendarDate) Equal(other CalendarDate) bool { return d.Compare(other) == 0 }

// Display renders DD.MM.YYYY. Text that already contains '.' is returned
// as-is; invalid ISO-like text is returned unchanged.
func (d CalendarDate) Display() string {
	if strings.Contains(d.text, ".") {
		return d.text
	}
	if !d.valid {
		return d.text
	}
	return fmt.Sprintf("%02d.%02d.%d", d.day.Day(), int(d.day.Month()), d.day.Year())
}

// ISO renders YYYY-MM-DD, or "" for invalid dates.
func (d CalendarDate) ISO() string {
	if !d.valid {
		return ""
	}
	return d.day.Format("2006-01-02")
}

func (d CalendarDate) String() string { return d.Display() }

// MarshalJSON keeps the source text so payloads round-trip unchanged.
func (d CalendarDate) MarshalJSON() ([]byte, error) {
	if d.text != "" {
		return json.Marshal(d.text)
	}
	return json.Marshal(d.Display())
}

// UnmarshalJSON accepts any string; unparsable text becomes an invalid date.
func (d *CalendarDate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = CalendarDate{}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("pricing: date must be a string: %w", err)
	}
	*d = ParseDate(text)
	return nil
}
