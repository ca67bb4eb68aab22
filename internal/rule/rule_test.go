package rule

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, s Spec) Rule {
	t.Helper()
	r, err := s.Compile()
	require.NoError(t, err)
	return r
}

func TestDelayNext(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindDelay, Seconds: 60})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.True(t, r.OneShot())
	require.Equal(t, now.Add(60*time.Second), r.Next(now))
}

func TestAtNext(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r := mustCompile(t, Spec{Kind: KindAt, Epoch: at.Unix()})
	require.True(t, r.OneShot())

	// Returned unconditionally, even when already due.
	now := at.Add(5 * time.Minute)
	require.True(t, r.Next(now).Equal(at))
}

func TestEveryNext(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindEvery, Seconds: 300})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.False(t, r.OneShot())
	require.Equal(t, now.Add(5*time.Minute), r.Next(now))

	ir, ok := r.(IntervalRule)
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, ir.Interval())
}

func TestDailyBeforeAndAfterBoundary(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindDaily, TimeOfDay: "08:30"})

	// 08:29 -> today 08:30.
	now := time.Date(2026, 3, 10, 8, 29, 0, 0, time.UTC)
	want := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))

	// 08:31 -> tomorrow 08:30.
	now = time.Date(2026, 3, 10, 8, 31, 0, 0, time.UTC)
	want = time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))
}

func TestDailyAlwaysFutureWithin24h(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindDaily, TimeOfDay: "23:59:59", Timezone: "Europe/Vienna"})
	nows := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 15, 23, 59, 59, 0, time.UTC),
		time.Date(2026, 3, 29, 1, 30, 0, 0, time.UTC), // EU spring-forward day
		time.Date(2026, 10, 25, 2, 30, 0, 0, time.UTC),
	}
	for _, now := range nows {
		next := r.Next(now)
		require.True(t, next.After(now), "next %v not after now %v", next, now)
		require.LessOrEqual(t, next.Sub(now), 25*time.Hour, "now %v", now)
	}
}

func TestDailyNamedZone(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindDaily, TimeOfDay: "08:30", Timezone: "Europe/Vienna"})
	loc, err := time.LoadLocation("Europe/Vienna")
	require.NoError(t, err)

	now := time.Date(2026, 7, 1, 8, 0, 0, 0, loc) // 08:00 local
	want := time.Date(2026, 7, 1, 8, 30, 0, 0, loc)
	require.True(t, r.Next(now).Equal(want))
}

func TestDailyExplicitOffsetOverridesZone(t *testing.T) {
	// 08:30+02:00 is 06:30 UTC regardless of the named zone.
	r := mustCompile(t, Spec{Kind: KindDaily, TimeOfDay: "08:30:00+02:00", Timezone: "America/New_York"})
	now := time.Date(2026, 3, 10, 6, 29, 0, 0, time.UTC)
	want := time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))
}

func TestMonthlyRollsToNextMonth(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindMonthly, DayOfMonth: 1, TimeOfDay: "08:30"})
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))
}

func TestMonthlySameMonthWhenStillAhead(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindMonthly, DayOfMonth: 20, TimeOfDay: "08:30"})
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 20, 8, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))
}

func TestMonthlyClampsToShortMonth(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindMonthly, DayOfMonth: 31, TimeOfDay: "08:30"})

	// 2026 is not a leap year: day 31 in February clamps to the 28th.
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))

	// 2028 is: clamps to the 29th.
	now = time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC)
	want = time.Date(2028, 2, 29, 8, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))

	// Past the clamped instant: advance a calendar month, re-clamp (Mar 31 exists).
	now = time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)
	want = time.Date(2026, 3, 31, 8, 30, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))
}

func TestMonthlyDecemberWrapsYear(t *testing.T) {
	r := mustCompile(t, Spec{Kind: KindMonthly, DayOfMonth: 5, TimeOfDay: "00:00"})
	now := time.Date(2026, 12, 10, 0, 0, 0, 0, time.UTC)
	want := time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC)
	require.True(t, r.Next(now).Equal(want))
}

func TestMonthlyLandsOnConfiguredDayAndTime(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Vienna")
	require.NoError(t, err)
	r := mustCompile(t, Spec{Kind: KindMonthly, DayOfMonth: 31, TimeOfDay: "06:15", Timezone: "Europe/Vienna"})

	now := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	next := r.Next(now).In(loc)
	require.Equal(t, 30, next.Day()) // April has 30 days
	require.Equal(t, 6, next.Hour())
	require.Equal(t, 15, next.Minute())
}

func TestCompileRejectsBadSpecs(t *testing.T) {
	bad := []Spec{
		{Kind: KindDelay, Seconds: -1},
		{Kind: KindAt},
		{Kind: KindEvery, Seconds: 0},
		{Kind: KindDaily, TimeOfDay: ""},
		{Kind: KindDaily, TimeOfDay: "25:00"},
		{Kind: KindDaily, TimeOfDay: "08:30", Timezone: "Mars/Olympus"},
		{Kind: KindMonthly, DayOfMonth: 0, TimeOfDay: "08:30"},
		{Kind: KindMonthly, DayOfMonth: 32, TimeOfDay: "08:30"},
		{Kind: "yearly"},
	}
	for _, s := range bad {
		_, err := s.Compile()
		require.Error(t, err, "spec %+v", s)
		require.True(t, errors.Is(err, ErrInvalidRule), "spec %+v: %v", s, err)
	}
}
