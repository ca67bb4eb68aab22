package rule

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		in   string
		want Spec
	}{
		{"delay:60", Spec{Kind: KindDelay, Seconds: 60}},
		{"at:1710000000", Spec{Kind: KindAt, Epoch: 1710000000}},
		{"every:300", Spec{Kind: KindEvery, Seconds: 300}},
		{"every:5m", Spec{Kind: KindEvery, Seconds: 300}},
		{"daily:08:30", Spec{Kind: KindDaily, TimeOfDay: "08:30"}},
		{"daily:08:30:15", Spec{Kind: KindDaily, TimeOfDay: "08:30:15"}},
		{"monthly:15@08:30", Spec{Kind: KindMonthly, DayOfMonth: 15, TimeOfDay: "08:30"}},
		{"MONTHLY:1@00:00", Spec{Kind: KindMonthly, DayOfMonth: 1, TimeOfDay: "00:00"}},
	}
	for _, tc := range cases {
		got, err := ParseSpec(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseSpecRFC3339(t *testing.T) {
	got, err := ParseSpec("at:2026-03-10T08:30:00Z")
	require.NoError(t, err)
	require.Equal(t, KindAt, got.Kind)
	require.Equal(t, time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC).Unix(), got.Epoch)
}

func TestParseSpecRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		"delay",
		"delay:abc",
		"at:tomorrow",
		"every:-5m",
		"monthly:08:30", // missing day@
		"monthly:x@08:30",
		"hourly:1",
	}
	for _, in := range bad {
		_, err := ParseSpec(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrInvalidRule), in)
	}
}

func TestParseTimeOfDayOffsets(t *testing.T) {
	tod, err := parseTimeOfDay("08:30:00+02:00")
	require.NoError(t, err)
	require.NotNil(t, tod.offset)
	require.Equal(t, 2*3600, *tod.offset)

	tod, err = parseTimeOfDay("23:15-0530")
	require.NoError(t, err)
	require.NotNil(t, tod.offset)
	require.Equal(t, -(5*3600 + 30*60), *tod.offset)

	tod, err = parseTimeOfDay("06:00Z")
	require.NoError(t, err)
	require.NotNil(t, tod.offset)
	require.Equal(t, 0, *tod.offset)

	tod, err = parseTimeOfDay("06:00")
	require.NoError(t, err)
	require.Nil(t, tod.offset)
}
