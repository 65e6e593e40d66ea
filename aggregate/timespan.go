// Package aggregate implements shiftlog's top-level orchestrator (§4.J): it
// drives the fetcher, fans the result out across channels, and runs each
// channel through segment -> enrich -> consolidate -> summarize before
// assembling the final report.
package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/shiftlog"
)

// ParseTimespan resolves a timespan token against now, in loc. Supported
// forms: the relative tokens "today", "yesterday", "last-week"; a single
// "YYYY-MM-DD" day; and an inclusive "YYYY-MM-DD..YYYY-MM-DD" range.
func ParseTimespan(raw string, loc *time.Location, now time.Time) (shiftlog.TimeRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	raw = strings.TrimSpace(raw)

	switch raw {
	case "today":
		return dayRange(now), nil
	case "yesterday":
		return dayRange(now.AddDate(0, 0, -1)), nil
	case "last-week":
		return lastWeekRange(now), nil
	}

	if start, end, ok := strings.Cut(raw, ".."); ok {
		startDay, err := time.ParseInLocation("2006-01-02", start, loc)
		if err != nil {
			return shiftlog.TimeRange{}, &shiftlog.ErrConfig{
				Field: "timespan", Reason: fmt.Sprintf("invalid start date %q", start),
			}
		}
		endDay, err := time.ParseInLocation("2006-01-02", end, loc)
		if err != nil {
			return shiftlog.TimeRange{}, &shiftlog.ErrConfig{
				Field: "timespan", Reason: fmt.Sprintf("invalid end date %q", end),
			}
		}
		if endDay.Before(startDay) {
			return shiftlog.TimeRange{}, &shiftlog.ErrConfig{
				Field: "timespan", Reason: fmt.Sprintf("end date %q precedes start date %q", end, start),
			}
		}
		r := dayRange(startDay)
		r.End = dayRange(endDay).End
		return r, nil
	}

	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return shiftlog.TimeRange{}, &shiftlog.ErrConfig{
			Field: "timespan", Reason: fmt.Sprintf("unrecognized timespan %q (want today, yesterday, last-week, YYYY-MM-DD, or YYYY-MM-DD..YYYY-MM-DD)", raw),
		}
	}
	return dayRange(day), nil
}

// dayRange returns the [00:00:00, 23:59:59] window of t's local calendar day.
func dayRange(t time.Time) shiftlog.TimeRange {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Second)
	return shiftlog.TimeRange{Start: float64(start.Unix()), End: float64(end.Unix())}
}

// lastWeekRange returns the Monday..Sunday window preceding the current
// calendar week.
func lastWeekRange(now time.Time) shiftlog.TimeRange {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // ISO week: Sunday is day 7, not 0
	}
	thisMonday := now.AddDate(0, 0, -(weekday - 1))
	lastMonday := thisMonday.AddDate(0, 0, -7)
	lastSunday := thisMonday.AddDate(0, 0, -1)
	return shiftlog.TimeRange{Start: dayRange(lastMonday).Start, End: dayRange(lastSunday).End}
}
