package inventory

import (
	"fmt"
	"strings"
)

// Calendar converts a job schedule to a systemd OnCalendar value. A
// schedule is a systemd shorthand (hourly, daily, ...), @hourly/@daily, or
// a 5-field cron expression.
func Calendar(schedule string) (string, error) {
	switch schedule {
	case "minutely", "hourly", "daily", "weekly", "monthly", "yearly":
		return schedule, nil
	case "@hourly":
		return "hourly", nil
	case "@daily":
		return "daily", nil
	}
	return cronToSystemdCalendar(schedule)
}

// cronToSystemdCalendar converts a 5-field cron expression to systemd OnCalendar format.
func cronToSystemdCalendar(cron string) (string, error) {
	fields := strings.Fields(cron)
	if len(fields) != 5 {
		return "", fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	for i, f := range fields {
		allowed := "0123456789*,-/"
		if i == 4 {
			allowed += "MTWFSonuedhrita"
		}
		if strings.Trim(f, allowed) != "" {
			return "", fmt.Errorf("invalid cron field %q", f)
		}
	}

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	// Convert day-of-week from cron (0-7, Sun=0 or 7) to systemd format.
	var dowPart string
	if dow != "*" {
		dowMap := map[string]string{
			"0": "Sun", "1": "Mon", "2": "Tue", "3": "Wed",
			"4": "Thu", "5": "Fri", "6": "Sat", "7": "Sun",
		}
		if mapped, ok := dowMap[dow]; ok {
			dowPart = mapped + " "
		} else {
			dowPart = dow + " "
		}
	}

	convertStep := func(field string) string {
		if strings.HasPrefix(field, "*/") {
			return "0/" + field[2:]
		}
		return field
	}

	return fmt.Sprintf("%s*-%s-%s %s:%s:00", dowPart, month, dom, convertStep(hour), convertStep(minute)), nil
}
