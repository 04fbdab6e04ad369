package recurrence

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/calerr"
	"calcore/internal/override"
	"calcore/internal/temporal"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func weeklyMaster(t *testing.T) *override.Entity {
	t.Helper()
	m := override.NewEntity("standup@example.com")
	require.NoError(t, m.Set(override.Summary, "Standup"))
	require.NoError(t, m.Set(override.Description, "Daily sync"))
	require.NoError(t, m.Set(override.DtStart, temporal.MustMake(false, "20240304T090000", "Europe/Berlin")))
	require.NoError(t, m.Set(override.DtEnd, temporal.MustMake(false, "20240304T093000", "Europe/Berlin")))
	require.NoError(t, m.Set(override.RRules, []string{"FREQ=WEEKLY;COUNT=6"}))
	return m
}

func TestExpandWeeklyAcrossDST(t *testing.T) {
	set, err := NewSet(weeklyMaster(t))
	require.NoError(t, err)

	res, err := set.Expand(Config{
		RangeStart: mustTime(t, "2024-03-01T00:00:00Z"),
		RangeEnd:   mustTime(t, "2024-04-30T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, res.Instances, 6)
	assert.False(t, res.Truncated)

	// Berlin switches to CEST on 31 March; wall clock stays at 09:00.
	assert.Equal(t, "20240325T090000", res.Instances[3].Start.Local())
	assert.Equal(t, "20240325T080000Z", res.Instances[3].Start.UTC())
	assert.Equal(t, "20240401T090000", res.Instances[4].Start.Local())
	assert.Equal(t, "20240401T070000Z", res.Instances[4].Start.UTC())
	assert.Equal(t, "20240401T073000Z", res.Instances[4].End.UTC())

	assert.Equal(t, "standup@example.com/20240401T070000Z", res.Instances[4].Key())
}

func TestExpandAppliesOverrides(t *testing.T) {
	m := weeklyMaster(t)

	o, err := override.NewOverride(m, nil, true)
	require.NoError(t, err)
	require.NoError(t, o.Set(override.RecurrenceID, temporal.MustMake(false, "20240311T090000", "Europe/Berlin")))
	require.NoError(t, o.Set(override.Summary, "Standup (moved)"))
	require.NoError(t, o.Set(override.Description, ""))
	require.NoError(t, o.Set(override.DtStart, temporal.MustMake(false, "20240311T140000", "Europe/Berlin")))
	require.NoError(t, o.Set(override.DtEnd, temporal.MustMake(false, "20240311T143000", "Europe/Berlin")))

	set, err := NewSet(m, o)
	require.NoError(t, err)

	res, err := set.Expand(Config{
		RangeStart: mustTime(t, "2024-03-04T00:00:00Z"),
		RangeEnd:   mustTime(t, "2024-03-12T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, res.Instances, 2)

	first, second := res.Instances[0], res.Instances[1]
	assert.Nil(t, first.Override)
	summary, err := first.Text(override.Summary)
	require.NoError(t, err)
	assert.Equal(t, "Standup", summary)

	assert.Same(t, o, second.Override)
	assert.Equal(t, "20240311T140000", second.Start.Local())
	assert.Equal(t, "20240311T080000Z", second.RecurrenceID.UTC())
	summary, err = second.Text(override.Summary)
	require.NoError(t, err)
	assert.Equal(t, "Standup (moved)", summary)
	desc, err := second.Resolve(override.Description)
	require.NoError(t, err)
	assert.Equal(t, "", desc)
	loc, err := second.Resolve(override.Location)
	require.NoError(t, err)
	assert.Equal(t, "", loc)
}

func TestExpandExDatesAndMovedInstance(t *testing.T) {
	m := weeklyMaster(t)
	require.NoError(t, m.Set(override.ExDates, []temporal.Value{
		temporal.MustMake(false, "20240318T080000Z", ""),
	}))

	// The 25 March instance moves back into the window being queried.
	moved, err := override.NewOverride(m, nil, true)
	require.NoError(t, err)
	require.NoError(t, moved.Set(override.RecurrenceID, temporal.MustMake(false, "20240325T090000", "Europe/Berlin")))
	require.NoError(t, moved.Set(override.DtStart, temporal.MustMake(false, "20240319T090000", "Europe/Berlin")))
	require.NoError(t, moved.Set(override.DtEnd, temporal.MustMake(false, "20240319T093000", "Europe/Berlin")))

	set, err := NewSet(m, moved)
	require.NoError(t, err)

	res, err := set.Expand(Config{
		RangeStart: mustTime(t, "2024-03-17T00:00:00Z"),
		RangeEnd:   mustTime(t, "2024-03-20T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
	assert.Equal(t, "20240319T090000", res.Instances[0].Start.Local())
	assert.Equal(t, "20240325T080000Z", res.Instances[0].RecurrenceID.UTC())
}

func TestExpandMovedInstanceKeepsDuration(t *testing.T) {
	utc := func(s string) temporal.Value { return temporal.MustMake(false, s, "") }
	window := Config{
		RangeStart: mustTime(t, "2024-03-04T00:00:00Z"),
		RangeEnd:   mustTime(t, "2024-03-07T00:00:00Z"),
	}

	tests := []struct {
		name      string
		masterEnd func(*override.Entity) error
		instance  map[override.Field]any
		wantEnd   string
	}{
		{
			name:      "duration on both",
			masterEnd: func(m *override.Entity) error { return m.Set(override.Duration, "PT1H") },
			instance: map[override.Field]any{
				override.Summary:      "Sync",
				override.RecurrenceID: utc("20240305T090000Z"),
				override.DtStart:      utc("20240305T140000Z"),
				override.Duration:     "PT1H",
			},
			wantEnd: "20240305T150000Z",
		},
		{
			name:      "duration against master end",
			masterEnd: func(m *override.Entity) error { return m.Set(override.DtEnd, utc("20240304T100000Z")) },
			instance: map[override.Field]any{
				override.Summary:      "Sync",
				override.RecurrenceID: utc("20240305T090000Z"),
				override.DtStart:      utc("20240305T140000Z"),
				override.Duration:     "PT2H",
			},
			wantEnd: "20240305T160000Z",
		},
		{
			name:      "start only against master end",
			masterEnd: func(m *override.Entity) error { return m.Set(override.DtEnd, utc("20240304T100000Z")) },
			instance: map[override.Field]any{
				override.Summary:      "Sync",
				override.RecurrenceID: utc("20240305T090000Z"),
				override.DtStart:      utc("20240305T140000Z"),
			},
			wantEnd: "20240305T150000Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := override.NewEntity("sync@example.com")
			require.NoError(t, m.Set(override.Summary, "Sync"))
			require.NoError(t, m.Set(override.DtStart, utc("20240304T090000Z")))
			require.NoError(t, tt.masterEnd(m))
			require.NoError(t, m.Set(override.RRules, []string{"FREQ=DAILY;COUNT=3"}))

			o, err := override.Diff(m, tt.instance, true)
			require.NoError(t, err)
			set, err := NewSet(m, o)
			require.NoError(t, err)

			res, err := set.Expand(window)
			require.NoError(t, err)
			require.Len(t, res.Instances, 3)

			moved := res.Instances[1]
			require.NotNil(t, moved.Override)
			assert.Equal(t, "20240305T140000Z", moved.Start.UTC())
			assert.Equal(t, tt.wantEnd, moved.End.UTC())
			for _, inst := range res.Instances {
				assert.LessOrEqual(t, temporal.Compare(inst.Start, inst.End), 0, inst.Key())
			}
		})
	}
}

func TestExpandSingleAndAllDay(t *testing.T) {
	m := override.NewEntity("holiday")
	require.NoError(t, m.Set(override.DtStart, temporal.MustMake(true, "20240301", "")))

	set, err := NewSet(m)
	require.NoError(t, err)
	res, err := set.Expand(Config{
		RangeStart: mustTime(t, "2024-03-01T12:00:00Z"),
		RangeEnd:   mustTime(t, "2024-03-05T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
	assert.Equal(t, "20240302", res.Instances[0].End.Local())

	res, err = set.Expand(Config{
		RangeStart: mustTime(t, "2024-03-03T00:00:00Z"),
		RangeEnd:   mustTime(t, "2024-03-05T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Instances)
}

func TestExpandCapAndErrors(t *testing.T) {
	m := override.NewEntity("daily")
	require.NoError(t, m.Set(override.DtStart, temporal.MustMake(false, "20240101T080000", "")))
	require.NoError(t, m.Set(override.Duration, "PT1H"))
	require.NoError(t, m.Set(override.RRules, []string{"RRULE:FREQ=DAILY"}))

	set, err := NewSet(m)
	require.NoError(t, err)
	res, err := set.Expand(Config{
		RangeStart:     mustTime(t, "2024-01-01T00:00:00Z"),
		RangeEnd:       mustTime(t, "2024-12-31T00:00:00Z"),
		MaxOccurrences: 10,
	})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Instances, 10)
	assert.True(t, res.Instances[0].Start.Floating())
	assert.Equal(t, "20240101T090000", res.Instances[0].End.Local())

	_, err = set.Expand(Config{
		RangeStart: mustTime(t, "2024-02-01T00:00:00Z"),
		RangeEnd:   mustTime(t, "2024-01-01T00:00:00Z"),
	})
	assert.ErrorIs(t, err, calerr.ErrInvalidDate)

	require.NoError(t, m.Set(override.RRules, []string{"FREQ=SOMETIMES"}))
	_, err = set.Expand(Config{
		RangeStart: mustTime(t, "2024-01-01T00:00:00Z"),
		RangeEnd:   mustTime(t, "2024-01-02T00:00:00Z"),
	})
	assert.ErrorIs(t, err, calerr.ErrInvalidDate)
}

func TestNewSetRejectsForeignOverrides(t *testing.T) {
	m := weeklyMaster(t)
	other := override.NewEntity("other")

	foreign, err := override.NewOverride(other, nil, true)
	require.NoError(t, err)
	require.NoError(t, foreign.Set(override.RecurrenceID, temporal.MustMake(false, "20240311T080000Z", "")))
	_, err = NewSet(m, foreign)
	assert.ErrorIs(t, err, calerr.ErrBadOverrideChain)

	noRID, err := override.NewOverride(m, nil, true)
	require.NoError(t, err)
	_, err = NewSet(m, noRID)
	assert.ErrorIs(t, err, calerr.ErrBadOverrideChain)

	annotation, err := override.NewOverride(m, nil, false)
	require.NoError(t, err)
	set, err := NewSet(m, annotation)
	require.NoError(t, err)
	assert.Len(t, set.Annotations(), 1)
}
