package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dtRegex = regexp.MustCompile(`^(\d{4,14})(?:\.(\d{1,6}))?([+-]\d{4})?$`)
	tmRegex = regexp.MustCompile(`^(\d{2,6})(?:\.(\d{1,6}))?$`)
)

// ParseDICOMDate reads a DA value, YYYYMMDD or the older YYYY.MM.DD.
func ParseDICOMDate(da string) (time.Time, error) {
	da = strings.TrimSpace(da)
	switch {
	case len(da) == 8:
		return time.Parse("20060102", da)
	case len(da) == 10 && da[4] == '.' && da[7] == '.':
		return time.Parse("2006.01.02", da)
	}
	return time.Time{}, fmt.Errorf("%w: DA %q", ErrUnparsable, da)
}

// ParseDICOMTime reads a TM value as an offset from midnight. Omitted
// trailing components count as zero.
func ParseDICOMTime(tm string) (time.Duration, error) {
	tm = strings.TrimSpace(tm)
	match := tmRegex.FindStringSubmatch(tm)
	if match == nil || len(match[1])%2 != 0 {
		return 0, fmt.Errorf("%w: TM %q", ErrUnparsable, tm)
	}
	digits := match[1]
	var parts [3]int
	for i := 0; i*2 < len(digits); i++ {
		parts[i], _ = strconv.Atoi(digits[i*2 : i*2+2])
	}
	if parts[0] > 23 || parts[1] > 59 || parts[2] > 60 {
		return 0, fmt.Errorf("%w: TM %q", ErrUnparsable, tm)
	}
	d := time.Duration(parts[0])*time.Hour + time.Duration(parts[1])*time.Minute + time.Duration(parts[2])*time.Second
	if len(digits) == 6 && match[2] != "" {
		d += fractionOf(match[2])
	}
	return d, nil
}

// ParseDICOMDateTime reads a DT value including the optional +HHMM offset.
func ParseDICOMDateTime(dt string) (time.Time, error) {
	dt = strings.TrimSpace(dt)
	match := dtRegex.FindStringSubmatch(dt)
	if match == nil || len(dt) > 26 {
		return time.Time{}, fmt.Errorf("%w: DT %q", ErrUnparsable, dt)
	}
	digits := match[1]
	field := func(from, to, def int) int {
		if len(digits) < to {
			return def
		}
		v, _ := strconv.Atoi(digits[from:to])
		return v
	}
	year := field(0, 4, 1)
	month := field(4, 6, 1)
	day := field(6, 8, 1)
	hour := field(8, 10, 0)
	minute := field(10, 12, 0)
	second := field(12, 14, 0)

	loc := time.UTC
	if tz := match[3]; tz != "" {
		h, _ := strconv.Atoi(tz[1:3])
		m, _ := strconv.Atoi(tz[3:5])
		offset := (h*60 + m) * 60
		if tz[0] == '-' {
			offset = -offset
		}
		loc = time.FixedZone(tz, offset)
	}

	var nanos int
	if len(digits) >= 14 && match[2] != "" {
		nanos = int(fractionOf(match[2]))
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, nanos, loc)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: DT %q", ErrUnparsable, dt)
	}
	return t, nil
}

func fractionOf(digits string) time.Duration {
	padded := (digits + "000000")[:6]
	micro, _ := strconv.Atoi(padded)
	return time.Duration(micro) * time.Microsecond
}
