package alarm

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/calerr"
	"calcore/internal/temporal"
)

func utc(s string) time.Time {
	t, err := time.Parse("20060102T150405Z", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextTriggerRepeats(t *testing.T) {
	start := temporal.MustMake(false, "20240301T090000", "Europe/Berlin") // 08:00Z
	a := Alarm{
		Action:   "DISPLAY",
		Trigger:  temporal.MustParseDuration("-PT15M"),
		Repeat:   2,
		Interval: temporal.MustParseDuration("PT5M"),
	}

	next, ok, err := a.NextTrigger(start, temporal.Value{}, time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utc("20240301T074500Z"), next)

	next, ok, err = a.NextTrigger(start, temporal.Value{}, next)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utc("20240301T075000Z"), next)

	next, ok, err = a.NextTrigger(start, temporal.Value{}, next)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utc("20240301T075500Z"), next)

	_, ok, err = a.NextTrigger(start, temporal.Value{}, next)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNextTriggerIsPure(t *testing.T) {
	start := temporal.MustMake(false, "20240301T090000Z", "")
	a := Alarm{Trigger: temporal.MustParseDuration("-PT1H"), Repeat: 1, Interval: temporal.MustParseDuration("PT30M")}

	after := utc("20240301T080000Z")
	first, ok1, err1 := a.NextTrigger(start, temporal.Value{}, after)
	second, ok2, err2 := a.NextTrigger(start, temporal.Value{}, after)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
	assert.Equal(t, utc("20240301T083000Z"), first)
}

func TestTriggerRelatedEndAndAbsolute(t *testing.T) {
	start := temporal.MustMake(false, "20240301T090000Z", "")
	end := temporal.MustMake(false, "20240301T100000Z", "")

	rel := Alarm{Trigger: temporal.MustParseDuration("PT5M"), RelatedEnd: true}
	got, err := rel.Triggers(start, end)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{utc("20240301T100500Z")}, got)

	_, err = rel.Triggers(start, temporal.Value{})
	assert.ErrorIs(t, err, calerr.ErrInvalidDate)

	abs := Alarm{Absolute: temporal.MustMake(false, "20240229T120000Z", "")}
	got, err = abs.Triggers(start, end)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{utc("20240229T120000Z")}, got)
}

func TestTriggerAllDay(t *testing.T) {
	day := temporal.MustMake(true, "20240301", "")
	a := Alarm{Trigger: temporal.MustParseDuration("-PT15M")}

	got, err := a.Triggers(day, temporal.Value{})
	require.NoError(t, err)
	assert.Equal(t, utc("20240229T234500Z"), got[0])
}

func TestRepeatWithoutInterval(t *testing.T) {
	a := Alarm{Trigger: temporal.MustParseDuration("-PT15M"), Repeat: 3}
	_, err := a.Triggers(temporal.MustMake(false, "20240301T090000Z", ""), temporal.Value{})
	assert.ErrorIs(t, err, calerr.ErrInvalidDate)
}
