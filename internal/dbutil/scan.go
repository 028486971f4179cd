package dbutil

import (
	"database/sql/driver"
	"fmt"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NullTime scans timestamps returned as time.Time by pgx and as text by
// SQLite. Parsed values are normalized to UTC.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (nt *NullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	case time.Time:
		nt.Time, nt.Valid = v.UTC(), true
		return nil
	case string:
		return nt.parse(v)
	case []byte:
		return nt.parse(string(v))
	case int64:
		nt.Time, nt.Valid = time.Unix(v, 0).UTC(), true
		return nil
	default:
		return fmt.Errorf("dbutil: cannot scan %T into NullTime", src)
	}
}

func (nt *NullTime) parse(s string) error {
	if s == "" {
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			nt.Time, nt.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("dbutil: unrecognized time %q", s)
}

// Value implements driver.Valuer.
func (nt NullTime) Value() (driver.Value, error) {
	if !nt.Valid {
		return nil, nil
	}
	return nt.Time.UTC(), nil
}

// Ptr returns the time or nil.
func (nt NullTime) Ptr() *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// TimePtr converts an optional time for use as a query argument.
func TimePtr(t *time.Time) NullTime {
	if t == nil {
		return NullTime{}
	}
	return NullTime{Time: t.UTC(), Valid: true}
}
