package housekeeping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSpec parses a job schedule.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 0 3 * * *", "@hourly", "@every 55m"
//   - Interval duration: "30s", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes)
func ParseSpec(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sched, err := parser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cron %q: %w", raw, err)
		}
		return sched, nil
	}

	var d time.Duration
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
		}
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return cron.Every(d), nil
}
