package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

const (
	// layoutCurrentTimestamp matches SQLite's CURRENT_TIMESTAMP.
	layoutCurrentTimestamp = "2006-01-02 15:04:05"

	// layoutPadded is used for millisecond strings after zero padding.
	layoutPadded   = "2006-01-02 15:04:05.000000000"
	layoutFraction = "2006-01-02 15:04:05.999999999"

	// layoutLegacy is the old offset-suffixed encoding, once its colon
	// before the fraction has been turned back into a dot.
	layoutLegacy = "2006-01-02 15:04:05.999999999 -0700"

	// storeLayout is what strftime('%Y-%m-%d %H:%M:%f') produces.
	storeLayout = "2006-01-02 15:04:05.000"
)

// ParseTimestamp parses the textual timestamps found in bibliothecula
// databases. The branch is chosen by input length:
//
//	19 chars   "2020-01-01 00:00:00"
//	23 chars   "2020-01-01 00:00:00.123" (zero padded to nanoseconds first)
//	otherwise  fractional seconds, falling back to the legacy
//	           "2020-01-01 00:00:00:000000000 +0000" form
//
// The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	switch len(s) {
	case len(layoutCurrentTimestamp):
		t, err := time.Parse(layoutCurrentTimestamp, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	case len(storeLayout):
		t, err := time.Parse(layoutPadded, s+"000000")
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	}

	t, err := time.Parse(layoutFraction, s)
	if err == nil {
		return t.UTC(), nil
	}
	if len(s) > 19 && s[19] == ':' {
		legacy := s[:19] + "." + s[20:]
		if lt, lerr := time.Parse(layoutLegacy, legacy); lerr == nil {
			return lt.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
}

// FormatTimestamp renders t the way the store's column defaults do.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(storeLayout)
}

// CreatedTime is a row creation time.
type CreatedTime struct{ time.Time }

// LastModifiedTime is a row modification time.
type LastModifiedTime struct{ time.Time }

// Scan is lenient: NULL or unparseable values become the Unix epoch.
func (c *CreatedTime) Scan(src any) error {
	c.Time = scanTimestamp(src)
	return nil
}

func (c CreatedTime) Value() (driver.Value, error) { return FormatTimestamp(c.Time), nil }

func (m *LastModifiedTime) Scan(src any) error {
	m.Time = scanTimestamp(src)
	return nil
}

func (m LastModifiedTime) Value() (driver.Value, error) { return FormatTimestamp(m.Time), nil }

func scanTimestamp(src any) time.Time {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		return v.UTC()
	default:
		return time.Unix(0, 0).UTC()
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}
