package cron

import (
	"strconv"
	"strings"
	"time"
)

// cronSpec is a parsed five-field crontab expression
// (minute hour day-of-month month day-of-week).
type cronSpec struct {
	minutes   [60]bool
	hours     [24]bool
	monthDays [32]bool // 1-31
	months    [13]bool // 1-12
	weekDays  [8]bool  // 0-7, 0 and 7 both Sunday
	domAny    bool
	dowAny    bool
	valid     bool
}

func parseCronExpr(expr string) cronSpec {
	var spec cronSpec
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return spec
	}

	ok := parseCronField(fields[0], 0, 59, spec.minutes[:], nil, false)
	ok = ok && parseCronField(fields[1], 0, 23, spec.hours[:], nil, false)
	ok = ok && parseCronField(fields[2], 1, 31, spec.monthDays[:], &spec.domAny, false)
	ok = ok && parseCronField(fields[3], 1, 12, spec.months[:], nil, false)
	ok = ok && parseCronField(fields[4], 0, 7, spec.weekDays[:], &spec.dowAny, true)
	spec.valid = ok
	return spec
}

// parseCronField fills out with the values selected by token. A token is a
// comma-separated list of parts; each part is "*", a value, or a range "a-b",
// optionally followed by "/step". With allowWeekday7, 7 is treated as an
// alias for Sunday and marks both 0 and 7.
func parseCronField(token string, minV, maxV int, out []bool, isAny *bool, allowWeekday7 bool) bool {
	for i := range out {
		out[i] = false
	}
	if isAny != nil {
		*isAny = false
	}

	mark := func(v int) {
		if allowWeekday7 && v == 7 {
			out[0] = true
			out[7] = true
		} else {
			out[v] = true
		}
	}

	sawAny := false
	for _, part := range strings.Split(token, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return false
		}

		step := 1
		base := part
		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			base = part[:idx]
			parsed, err := parseCronInt(part[idx+1:])
			if err != nil || parsed <= 0 {
				return false
			}
			step = parsed
		}

		start, end := minV, maxV
		switch {
		case base == "*" || base == "":
			sawAny = true
		case strings.IndexByte(base, '-') >= 0:
			idx := strings.IndexByte(base, '-')
			a, errA := parseCronInt(base[:idx])
			b, errB := parseCronInt(base[idx+1:])
			if errA != nil || errB != nil {
				return false
			}
			start, end = a, b
		default:
			v, err := parseCronInt(base)
			if err != nil {
				return false
			}
			start, end = v, v
		}

		if start > end {
			return false
		}
		for v := start; v <= end; v += step {
			if v < minV || v > maxV {
				return false
			}
			mark(v)
		}
	}

	if isAny != nil {
		*isAny = sawAny
	}
	for _, b := range out {
		if b {
			return true
		}
	}
	return false
}

func parseCronInt(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// matches reports whether the wall-clock minute of t satisfies the spec.
// Day-of-month and day-of-week use OR semantics when both are restricted,
// matching traditional cron behavior.
func (s *cronSpec) matches(t time.Time) bool {
	if !s.minutes[t.Minute()] || !s.hours[t.Hour()] || !s.months[int(t.Month())] {
		return false
	}
	domOK := s.monthDays[t.Day()]
	dowOK := s.weekDays[int(t.Weekday())]
	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dowOK
	case s.dowAny:
		return domOK
	default:
		return domOK || dowOK
	}
}

// maxMinuteLookahead bounds the next-fire scan at two years of minutes.
const maxMinuteLookahead = 60 * 24 * 366 * 2

// nextCronRunMs scans forward one minute at a time from the next minute
// boundary after nowMs, in local time, and returns the first matching instant
// in epoch milliseconds. Returns 0 for invalid expressions or when no match
// exists within the lookahead window.
func nextCronRunMs(expr string, nowMs int64) int64 {
	spec := parseCronExpr(expr)
	if !spec.valid {
		return 0
	}

	sec := nowMs / 1000
	t := sec + (60 - sec%60)
	for i := 0; i < maxMinuteLookahead; i++ {
		if spec.matches(time.Unix(t, 0)) {
			return t * 1000
		}
		t += 60
	}
	return 0
}
