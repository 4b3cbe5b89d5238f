package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Keys of the limits answer.
const (
	KeyFocMin   = "focmin"
	KeyFocMax   = "focmax"
	KeyMinSpeed = "minspeed"
	KeyMaxSpeed = "maxspeed"
)

// Limits is the device-reported configuration. A nil field was absent from
// the answer and must leave the client's previous value untouched.
type Limits struct {
	FocMin   *float64
	FocMax   *float64
	MinSpeed *int
	MaxSpeed *int
}

// HasSpeeds reports whether both speed bounds were reported.
func (l Limits) HasSpeeds() bool {
	return l.MinSpeed != nil && l.MaxSpeed != nil
}

// ParseLimits parses newline separated key=value pairs.
// Unknown keys and values that do not parse are ignored. No cross-field
// checks are made: focmin > focmax is passed through as reported.
func ParseLimits(body string) Limits {
	var l Limits
	for _, line := range strings.Split(body, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case KeyFocMin:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				l.FocMin = &f
			}
		case KeyFocMax:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				l.FocMax = &f
			}
		case KeyMinSpeed:
			if i, ok := parseSpeed(value); ok {
				l.MinSpeed = &i
			}
		case KeyMaxSpeed:
			if i, ok := parseSpeed(value); ok {
				l.MaxSpeed = &i
			}
		}
	}
	return l
}

// parseSpeed accepts integers and integral floats ("350", "350.0").
func parseSpeed(s string) (int, bool) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(f)), true
}

// String formats the limits the way the endpoint sends them. Absent fields are skipped.
func (l Limits) String() string {
	var b strings.Builder
	if l.FocMin != nil {
		fmt.Fprintf(&b, "%s=%g\n", KeyFocMin, *l.FocMin)
	}
	if l.FocMax != nil {
		fmt.Fprintf(&b, "%s=%g\n", KeyFocMax, *l.FocMax)
	}
	if l.MinSpeed != nil {
		fmt.Fprintf(&b, "%s=%d\n", KeyMinSpeed, *l.MinSpeed)
	}
	if l.MaxSpeed != nil {
		fmt.Fprintf(&b, "%s=%d\n", KeyMaxSpeed, *l.MaxSpeed)
	}
	return b.String()
}
