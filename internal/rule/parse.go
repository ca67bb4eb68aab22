package rule

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// timeOfDay is a parsed wall-clock time. offset, when set, is the fixed
// UTC offset in seconds carried inside the time string ("08:30:00+02:00").
type timeOfDay struct {
	hour, min, sec int
	offset         *int
}

// parseTimeOfDay accepts "HH:MM", "HH:MM:SS" and an optional trailing
// offset "Z", "+HH:MM", "-HH:MM", "+HHMM" or "-HHMM".
func parseTimeOfDay(s string) (timeOfDay, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return timeOfDay{}, errors.Wrap(ErrInvalidRule, "time of day is required")
	}

	clock := raw
	var tod timeOfDay
	if i := strings.IndexAny(raw, "Z+-"); i > 0 {
		clock = raw[:i]
		off, err := parseUTCOffset(raw[i:])
		if err != nil {
			return timeOfDay{}, err
		}
		tod.offset = &off
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return timeOfDay{}, errors.Wrapf(ErrInvalidRule, "time %q, expected HH:MM or HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return timeOfDay{}, errors.Wrapf(ErrInvalidRule, "invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return timeOfDay{}, errors.Wrapf(ErrInvalidRule, "invalid minute in %q", s)
	}
	tod.hour, tod.min = h, m
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return timeOfDay{}, errors.Wrapf(ErrInvalidRule, "invalid second in %q", s)
		}
		tod.sec = sec
	}
	return tod, nil
}

func parseUTCOffset(s string) (int, error) {
	if s == "Z" {
		return 0, nil
	}
	if len(s) < 3 || (s[0] != '+' && s[0] != '-') {
		return 0, errors.Wrapf(ErrInvalidRule, "invalid UTC offset %q", s)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	body := strings.ReplaceAll(s[1:], ":", "")
	if len(body) != 2 && len(body) != 4 {
		return 0, errors.Wrapf(ErrInvalidRule, "invalid UTC offset %q", s)
	}
	h, err := strconv.Atoi(body[:2])
	if err != nil || h > 23 {
		return 0, errors.Wrapf(ErrInvalidRule, "invalid UTC offset %q", s)
	}
	m := 0
	if len(body) == 4 {
		m, err = strconv.Atoi(body[2:])
		if err != nil || m > 59 {
			return 0, errors.Wrapf(ErrInvalidRule, "invalid UTC offset %q", s)
		}
	}
	return sign * (h*3600 + m*60), nil
}

// ParseSpec parses the compact CLI/form rule syntax:
//
//	delay:60            seconds from scheduling
//	at:1710000000       unix epoch seconds
//	at:2026-03-10T08:30:00Z  RFC 3339
//	every:300           interval seconds
//	every:5m            interval duration
//	daily:08:30         wall-clock time each day
//	monthly:15@08:30    day of month @ wall-clock time
//
// The timezone is not part of the syntax; callers set Spec.Timezone
// separately (empty means UTC).
func ParseSpec(s string) (Spec, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || rest == "" {
		return Spec{}, errors.Wrapf(ErrInvalidRule, "rule %q, expected kind:params", s)
	}

	switch Kind(strings.ToLower(kind)) {
	case KindDelay:
		secs, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Spec{}, errors.Wrapf(ErrInvalidRule, "delay %q is not a number of seconds", rest)
		}
		return Spec{Kind: KindDelay, Seconds: secs}, nil

	case KindAt:
		if epoch, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return Spec{Kind: KindAt, Epoch: epoch}, nil
		}
		t, err := time.Parse(time.RFC3339, rest)
		if err != nil {
			return Spec{}, errors.Wrapf(ErrInvalidRule, "at %q is neither epoch seconds nor RFC 3339", rest)
		}
		return Spec{Kind: KindAt, Epoch: t.Unix()}, nil

	case KindEvery:
		if secs, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return Spec{Kind: KindEvery, Seconds: secs}, nil
		}
		d, err := time.ParseDuration(rest)
		if err != nil || d <= 0 {
			return Spec{}, errors.Wrapf(ErrInvalidRule, "every %q is neither seconds nor a duration", rest)
		}
		return Spec{Kind: KindEvery, Seconds: int64(d / time.Second)}, nil

	case KindDaily:
		return Spec{Kind: KindDaily, TimeOfDay: rest}, nil

	case KindMonthly:
		dayStr, tod, ok := strings.Cut(rest, "@")
		if !ok {
			return Spec{}, errors.Wrapf(ErrInvalidRule, "monthly %q, expected day@HH:MM", rest)
		}
		day, err := strconv.Atoi(strings.TrimSpace(dayStr))
		if err != nil {
			return Spec{}, errors.Wrapf(ErrInvalidRule, "monthly day %q is not a number", dayStr)
		}
		return Spec{Kind: KindMonthly, DayOfMonth: day, TimeOfDay: strings.TrimSpace(tod)}, nil

	default:
		return Spec{}, errors.Wrapf(ErrInvalidRule, "unknown rule kind %q", kind)
	}
}
