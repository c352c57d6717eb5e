package scheduler

import (
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// sendHour is the local hour scheduled reports go out.
const sendHour = 9

// NextDue returns when the next report for freq is due, in now's location.
//
//   - weekly: the next Monday 09:00 strictly after now
//   - monthly: the 1st of next month at 09:00
//   - quarterly: the 1st of the next quarter's first month at 09:00
//
// Any other frequency yields now plus one week.
func NextDue(freq models.Frequency, now time.Time) time.Time {
	loc := now.Location()
	y, m, d := now.Date()

	switch freq {
	case models.FrequencyWeekly:
		days := (int(time.Monday) - int(now.Weekday()) + 7) % 7
		due := time.Date(y, m, d+days, sendHour, 0, 0, 0, loc)
		if !due.After(now) {
			due = time.Date(y, m, d+days+7, sendHour, 0, 0, 0, loc)
		}
		return due
	case models.FrequencyMonthly:
		return time.Date(y, m+1, 1, sendHour, 0, 0, 0, loc)
	case models.FrequencyQuarterly:
		// time.Date normalises month 13 to January of the next year.
		next := time.Month((int(m)-1)/3*3 + 4)
		return time.Date(y, next, 1, sendHour, 0, 0, 0, loc)
	default:
		return now.Add(7 * 24 * time.Hour)
	}
}

// StatusLayout formats a pending due time for display.
const StatusLayout = "Monday, January 2, 2006 at 3:04 PM"
