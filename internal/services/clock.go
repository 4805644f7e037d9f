package services

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clock is the authoritative time source. Client-supplied timestamps are never
// used as "now".
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

var ErrUnparsableTime = errors.New("unparsable timestamp")

// Accepts ISO-8601 with either 'T' or ' ' between date and time, optional seconds and
// fraction, and a Z / ±hh / ±hhmm / ±hh:mm offset. A bare date is midnight.
var clientTimePattern = regexp.MustCompile(
	`^(\d{4})-(\d{1,2})-(\d{1,2})` +
		`(?:[T ](\d{1,2}):(\d{1,2})(?::(\d{1,2})(?:[.,](\d{1,9})\d*)?)?)?` +
		`\s*(Z|z|[+-]\d{2}(?::?\d{2})?)?$`,
)

// ParseClientTime parses a client timestamp. Inputs without an offset are read in loc.
func ParseClientTime(raw string, loc *time.Location) (time.Time, error) {
	m := clientTimePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return time.Time{}, ErrUnparsableTime
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour := atoiOrZero(m[4])
	minute := atoiOrZero(m[5])
	second := atoiOrZero(m[6])

	nanos := 0
	if m[7] != "" {
		frac := m[7] + strings.Repeat("0", 9-len(m[7]))
		nanos, _ = strconv.Atoi(frac)
	}

	if month < 1 || month > 12 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, ErrUnparsableTime
	}

	zone := loc
	if zone == nil {
		zone = time.UTC
	}
	if m[8] != "" {
		var ok bool
		if zone, ok = parseOffset(m[8]); !ok {
			return time.Time{}, ErrUnparsableTime
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, nanos, zone)
	// time.Date normalizes Feb 30 into March; reject instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, ErrUnparsableTime
	}
	return t, nil
}

// parseOffset reports false for offsets outside ±23:59.
func parseOffset(tz string) (*time.Location, bool) {
	if tz == "Z" || tz == "z" {
		return time.UTC, true
	}
	sign := 1
	if tz[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(tz[1:], ":", "")
	hours, _ := strconv.Atoi(digits[:2])
	minutes := 0
	if len(digits) == 4 {
		minutes, _ = strconv.Atoi(digits[2:])
	}
	if hours > 23 || minutes > 59 {
		return nil, false
	}
	offset := sign * (hours*3600 + minutes*60)
	if offset == 0 {
		return time.UTC, true
	}
	return time.FixedZone(tz, offset), true
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
