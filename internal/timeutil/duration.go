package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts either an ISO-8601 duration ("PT6H", "P1DT30M",
// "-PT1H", "PT0.5S") or a Go duration string ("6h", "90m"). Calendar units
// (years, months, weeks) are rejected because a time step must have a fixed
// length.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	body := s
	neg := false
	if body[0] == '-' || body[0] == '+' {
		neg = body[0] == '-'
		body = body[1:]
	}
	if !strings.HasPrefix(body, "P") {
		return time.ParseDuration(s)
	}
	d, err := parseISO(body[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
	}
	if neg {
		d = -d
	}
	return d, nil
}

func parseISO(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("no components")
	}
	var total time.Duration
	inTime := false
	seen := false
	num := ""
	for _, r := range s {
		switch {
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("misplaced T")
			}
			inTime = true
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
		default:
			if num == "" {
				return 0, fmt.Errorf("designator %q without value", r)
			}
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, err
			}
			unit, err := isoUnit(r, inTime)
			if err != nil {
				return 0, err
			}
			total += time.Duration(v * float64(unit))
			num = ""
			seen = true
		}
	}
	if num != "" {
		return 0, fmt.Errorf("trailing value %q without designator", num)
	}
	if !seen {
		return 0, fmt.Errorf("no components")
	}
	return total, nil
}

func isoUnit(r rune, inTime bool) (time.Duration, error) {
	if inTime {
		switch r {
		case 'H':
			return time.Hour, nil
		case 'M':
			return time.Minute, nil
		case 'S':
			return time.Second, nil
		}
		return 0, fmt.Errorf("unknown time designator %q", r)
	}
	switch r {
	case 'D':
		return 24 * time.Hour, nil
	case 'Y', 'M', 'W':
		return 0, fmt.Errorf("calendar designator %q has no fixed length", r)
	}
	return 0, fmt.Errorf("unknown date designator %q", r)
}

// FormatISO renders d as an ISO-8601 duration such as "PT6H" or "-P1DT30M".
func FormatISO(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d == 0 {
		return b.String()
	}
	b.WriteByte('T')
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if d > 0 {
		b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
		b.WriteByte('S')
	}
	return b.String()
}
