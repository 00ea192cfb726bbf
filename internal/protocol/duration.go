package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDuration is returned by ParseDuration and ParseUpdate.
var ErrInvalidDuration = errors.New("invalid duration")

var units = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

// ParseUpdate parses the msg argument: "+1h" adds, "-30m" subtracts, and
// anything else ("2d", "0") replaces the deadline.
func ParseUpdate(s string) (Update, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Update{}, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}
	kind := Set
	body := s
	switch s[0] {
	case '+':
		kind, body = Add, s[1:]
	case '-':
		kind, body = Sub, s[1:]
	}
	d, err := ParseDuration(body)
	if err != nil {
		return Update{}, err
	}
	return Update{Kind: kind, Duration: d}, nil
}

// ParseDuration parses an unsigned duration made of one or more
// number+unit terms, e.g. "90s", "1h30m", "2d", "1.5h". A bare "0" is zero.
// Units: ns, us, ms, s, m, h, d, w, y.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}
	if s == "0" {
		return 0, nil
	}

	var total float64
	for s != "" {
		i := 0
		for i < len(s) && (s[i] == '.' || ('0' <= s[i] && s[i] <= '9')) {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("%w: %q: expected number", ErrInvalidDuration, orig)
		}
		n, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, orig, err)
		}
		s = s[i:]

		j := 0
		for j < len(s) && s[j] != '.' && (s[j] < '0' || s[j] > '9') {
			j++
		}
		if j == 0 {
			return 0, fmt.Errorf("%w: %q: missing unit", ErrInvalidDuration, orig)
		}
		unit, ok := units[s[:j]]
		if !ok {
			return 0, fmt.Errorf("%w: %q: unknown unit %q", ErrInvalidDuration, orig, s[:j])
		}
		s = s[j:]

		total += n * float64(unit)
		// float64(MaxInt64) rounds up to 2^63, which no Duration holds.
		if total >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %q: overflows", ErrInvalidDuration, orig)
		}
	}
	return time.Duration(total), nil
}
