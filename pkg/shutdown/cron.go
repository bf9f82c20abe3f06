package shutdown

import (
	"fmt"
	"time"
)

// Expression renders t as a one-shot cron expression in the
// `cron(Minutes Hours Day-of-month Month Day-of-week Year)` form understood by
// EventBridge and by the local scheduler. t is converted to UTC first.
func Expression(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("cron(%d %d %d %d ? %d)", t.Minute(), t.Hour(), t.Day(), int(t.Month()), t.Year())
}

// ParseExpression is the inverse of Expression.
func ParseExpression(expr string) (time.Time, error) {
	var minute, hour, day, month, year int
	n, err := fmt.Sscanf(expr, "cron(%d %d %d %d ? %d)", &minute, &hour, &day, &month, &year)
	if err != nil || n != 5 {
		return time.Time{}, fmt.Errorf("unsupported schedule expression %q", expr)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Minute() != minute || t.Hour() != hour || t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("invalid date in schedule expression %q", expr)
	}
	return t, nil
}

// ceilMinute rounds t up to the next whole minute so a rule never fires
// before its deadline.
func ceilMinute(t time.Time) time.Time {
	if tr := t.Truncate(time.Minute); !tr.Equal(t) {
		return tr.Add(time.Minute)
	}
	return t
}
