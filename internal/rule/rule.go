package rule

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// ErrInvalidRule marks malformed recurrence parameters. It is reported at
// construction time; Next() never fails.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Kind string

const (
	KindDelay   Kind = "delay"   // one-shot, relative
	KindAt      Kind = "at"      // one-shot, absolute
	KindEvery   Kind = "every"   // recurring, fixed interval
	KindDaily   Kind = "daily"   // recurring, wall-clock time each day
	KindMonthly Kind = "monthly" // recurring, day-of-month + wall-clock time
)

// Spec is the serializable rule descriptor. It is what gets persisted in a
// ScheduleRequest; Compile turns it into an executable Rule.
type Spec struct {
	Kind       Kind   `json:"kind"`
	Seconds    int64  `json:"seconds,omitempty"`      // delay, every
	Epoch      int64  `json:"epoch,omitempty"`        // at
	TimeOfDay  string `json:"time_of_day,omitempty"`  // daily, monthly
	DayOfMonth int    `json:"day_of_month,omitempty"` // monthly, 1..31
	Timezone   string `json:"timezone,omitempty"`     // IANA name; empty means UTC
}

// Rule computes fire instants. Next is pure: it holds no state and does
// no I/O; the caller owns "one call per iteration boundary".
type Rule interface {
	Kind() Kind

	// OneShot reports whether the rule fires exactly once. One-shot rules
	// may return an instant at or before now (already due); recurring
	// rules always return an instant strictly after now.
	OneShot() bool

	Next(now time.Time) time.Time
}

// IntervalRule is implemented by rules anchored to a fixed interval.
// The scheduler uses it to compute drift-free fire times for
// fire-and-forget series (series start + n*interval).
type IntervalRule interface {
	Rule
	Interval() time.Duration
}

// Compile validates the spec and returns an executable rule.
//
// Wall-clock times are interpreted in the spec's zone (an explicit offset
// in TimeOfDay wins over the named zone). On DST transitions, a wall time
// inside a spring-forward gap resolves to the first valid instant after
// the gap, and a repeated wall time resolves to the earlier offset; both
// follow Go's time.Date normalization.
func (s Spec) Compile() (Rule, error) {
	switch s.Kind {
	case KindDelay:
		if s.Seconds < 0 {
			return nil, errors.Wrapf(ErrInvalidRule, "delay seconds must be >= 0, got %d", s.Seconds)
		}
		return delayRule{d: time.Duration(s.Seconds) * time.Second}, nil

	case KindAt:
		if s.Epoch <= 0 {
			return nil, errors.Wrapf(ErrInvalidRule, "at epoch must be positive, got %d", s.Epoch)
		}
		return atRule{at: time.Unix(s.Epoch, 0)}, nil

	case KindEvery:
		if s.Seconds <= 0 {
			return nil, errors.Wrapf(ErrInvalidRule, "every seconds must be > 0, got %d", s.Seconds)
		}
		return everyRule{d: time.Duration(s.Seconds) * time.Second}, nil

	case KindDaily:
		tod, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return nil, err
		}
		loc, err := resolveLocation(tod, s.Timezone)
		if err != nil {
			return nil, err
		}
		sched, err := compileDailyCron(tod, loc)
		if err != nil {
			return nil, err
		}
		return dailyRule{tod: tod, loc: loc, sched: sched}, nil

	case KindMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return nil, errors.Wrapf(ErrInvalidRule, "day of month must be in 1..31, got %d", s.DayOfMonth)
		}
		tod, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return nil, err
		}
		loc, err := resolveLocation(tod, s.Timezone)
		if err != nil {
			return nil, err
		}
		return monthlyRule{day: s.DayOfMonth, tod: tod, loc: loc}, nil

	default:
		return nil, errors.Wrapf(ErrInvalidRule, "unknown rule kind %q", s.Kind)
	}
}

func resolveLocation(tod timeOfDay, tz string) (*time.Location, error) {
	// An explicit offset in the time-of-day string pins the zone.
	if tod.offset != nil {
		off := *tod.offset
		name := fmt.Sprintf("UTC%+03d:%02d", off/3600, abs(off)%3600/60)
		return time.FixedZone(name, off), nil
	}
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRule, "unknown timezone %q", tz)
	}
	return loc, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ---- delay ----

type delayRule struct{ d time.Duration }

func (r delayRule) Kind() Kind                   { return KindDelay }
func (r delayRule) OneShot() bool                { return true }
func (r delayRule) Next(now time.Time) time.Time { return now.Add(r.d) }
func (r delayRule) Interval() time.Duration      { return r.d }

// ---- at ----

type atRule struct{ at time.Time }

func (r atRule) Kind() Kind                   { return KindAt }
func (r atRule) OneShot() bool                { return true }
func (r atRule) Next(now time.Time) time.Time { return r.at }

// ---- every ----

type everyRule struct{ d time.Duration }

func (r everyRule) Kind() Kind                   { return KindEvery }
func (r everyRule) OneShot() bool                { return false }
func (r everyRule) Next(now time.Time) time.Time { return now.Add(r.d) }
func (r everyRule) Interval() time.Duration      { return r.d }

// ---- daily ----

// dailyRule delegates next-fire computation to a robfig/cron schedule
// pinned to the rule's location ("sec min hour * * *"). cron.Next returns
// an instant strictly after its argument, which gives the daily rollover
// (today's time already passed -> tomorrow) for free.
type dailyRule struct {
	tod   timeOfDay
	loc   *time.Location
	sched cron.Schedule
}

func compileDailyCron(tod timeOfDay, loc *time.Location) (cron.Schedule, error) {
	p := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := p.Parse(fmt.Sprintf("%d %d %d * * *", tod.sec, tod.min, tod.hour))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRule, err.Error())
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}
	return sched, nil
}

func (r dailyRule) Kind() Kind    { return KindDaily }
func (r dailyRule) OneShot() bool { return false }

func (r dailyRule) Next(now time.Time) time.Time {
	return r.sched.Next(now.In(r.loc))
}

// ---- monthly ----

type monthlyRule struct {
	day int
	tod timeOfDay
	loc *time.Location
}

func (r monthlyRule) Kind() Kind    { return KindMonthly }
func (r monthlyRule) OneShot() bool { return false }

// Next returns the configured day/time of the current month, or of the
// next month when that instant is not strictly in the future. The day is
// clamped to the month's last day (31 -> Feb 28/29), and advancing is a
// calendar-month step, never "+30 days".
func (r monthlyRule) Next(now time.Time) time.Time {
	n := now.In(r.loc)
	c := r.candidate(n.Year(), n.Month())
	if !c.After(n) {
		y, m := nextMonth(n.Year(), n.Month())
		c = r.candidate(y, m)
	}
	return c
}

func (r monthlyRule) candidate(year int, month time.Month) time.Time {
	day := r.day
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, r.tod.hour, r.tod.min, r.tod.sec, 0, r.loc)
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
