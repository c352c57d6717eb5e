package export

import (
	"fmt"
	"time"
)

// DateLayout is the format of date filters accepted by exports and queries.
const DateLayout = "2006-01-02"

// DayStart parses a YYYY-MM-DD date as 00:00:00 in loc.
func DayStart(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
	}
	return t, nil
}

// DayEnd parses a YYYY-MM-DD date as 23:59:59 in loc, so a date_to filter
// includes the whole day.
func DayEnd(date string, loc *time.Location) (time.Time, error) {
	t, err := DayStart(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc), nil
}
