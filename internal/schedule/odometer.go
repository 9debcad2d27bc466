package schedule

import "strings"

// ParseOdometer reads the leading integer of s, the way form input is coerced:
// surrounding blanks and an optional sign are accepted and anything after the
// digits is ignored ("12500 km" reads as 12500). ok is false when s holds no
// leading digits.
func ParseOdometer(s string) (value int64, ok bool) {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	const maxReading = int64(1) << 53
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		ok = true
		if value < maxReading {
			value = value*10 + int64(r-'0')
		}
	}
	if !ok {
		return 0, false
	}
	if value > maxReading {
		value = maxReading
	}
	if neg {
		value = -value
	}
	return value, true
}
