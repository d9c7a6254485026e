package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDelay is returned for delays that cannot be parsed or are not positive.
var ErrInvalidDelay = errors.New("invalid delay")

var (
	// P[nD]T[nH][nM][n(.f)S], the subset of ISO 8601 durations without years or months.
	isoDelay = regexp.MustCompile(`^([-+])?P(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

	// [N day[s], ]HH:MM[:SS[.ffffff]]
	clockDelay = regexp.MustCompile(`^(?:([-+]?\d+) days?, )?([-+]?\d+):(\d+)(?::(\d+(?:\.\d+)?))?$`)
)

// ParseDelay parses a lag delay. Accepted forms:
//
//	PT1H30M, P1DT2H, PT45S     ISO 8601
//	01:30:00, 00:00:05.5       time selector
//	2 days, 01:00:00           timedelta text
//	90s, 1h30m                 Go duration
//
// Delays are kept to microsecond precision. The result must be strictly positive.
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDelay)
	}

	d, err := parseDelay(s)
	if err != nil {
		return 0, err
	}
	d = d.Truncate(time.Microsecond)
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidDelay, s)
	}
	return d, nil
}

func parseDelay(s string) (time.Duration, error) {
	if m := isoDelay.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		if m[2] == "" && m[3] == "" && m[4] == "" && m[5] == "" && m[6] == "" {
			return 0, fmt.Errorf("%w: %q has no components", ErrInvalidDelay, s)
		}
		if strings.Contains(strings.ToUpper(s), "T") && m[4] == "" && m[5] == "" && m[6] == "" {
			return 0, fmt.Errorf("%w: %q has no time components after T", ErrInvalidDelay, s)
		}
		units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
		var total time.Duration
		for i, unit := range units {
			part := m[i+2]
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDelay, s, err)
			}
			total += time.Duration(math.Round(f * float64(unit)))
		}
		if m[1] == "-" {
			total = -total
		}
		return total, nil
	}

	if m := clockDelay.FindStringSubmatch(s); m != nil {
		var days, hours, minutes int64
		var seconds float64
		var err error
		if m[1] != "" {
			if days, err = strconv.ParseInt(m[1], 10, 64); err != nil {
				return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDelay, s, err)
			}
		}
		if hours, err = strconv.ParseInt(m[2], 10, 64); err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDelay, s, err)
		}
		if minutes, err = strconv.ParseInt(m[3], 10, 64); err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDelay, s, err)
		}
		if m[4] != "" {
			if seconds, err = strconv.ParseFloat(m[4], 64); err != nil {
				return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDelay, s, err)
			}
		}
		return time.Duration(days)*24*time.Hour +
			time.Duration(hours)*time.Hour +
			time.Duration(minutes)*time.Minute +
			time.Duration(math.Round(seconds*float64(time.Second))), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelay, s)
	}
	return d, nil
}

// FormatDelay renders d as HH:MM:SS, prefixed with "N day(s), " for delays
// of a day or more. Sub-second parts are kept as a fraction.
func FormatDelay(d time.Duration) string {
	var b strings.Builder
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days == 1 {
		b.WriteString("1 day, ")
	} else if days > 1 {
		fmt.Fprintf(&b, "%d days, ", days)
	}

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	frac := d - sec*time.Second

	fmt.Fprintf(&b, "%d:%02d:%02d", h, m, sec)
	if frac > 0 {
		fmt.Fprintf(&b, ".%06d", frac/time.Microsecond)
	}
	return b.String()
}
