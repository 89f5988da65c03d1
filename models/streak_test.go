package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayKey_PlainCalendarDay(t *testing.T) {
	at := time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-05", DayKey(at, 0))
	assert.Equal(t, "2024-01-04", PreviousDayKey(at, 0))
}

func TestDayKey_CutoverAttributesEarlyMorningToPreviousDay(t *testing.T) {
	// 2am play with cutover 3 still counts as the previous day
	at := time.Date(2024, 1, 5, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-04", DayKey(at, 3))
	assert.Equal(t, "2024-01-03", PreviousDayKey(at, 3))

	// 4am is past the cutover and counts as today
	later := time.Date(2024, 1, 5, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-05", DayKey(later, 3))
}

func TestDayKey_MidnightBoundary(t *testing.T) {
	before := time.Date(2024, 1, 4, 23, 59, 59, 0, time.UTC)
	after := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-04", DayKey(before, 0))
	assert.Equal(t, "2024-01-05", DayKey(after, 0))
}

func TestStreakRecordStale(t *testing.T) {
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name         string
		lastPlayDate string
		stale        bool
	}{
		{"played today", "2024-01-05", false},
		{"played yesterday", "2024-01-04", false},
		{"two day gap", "2024-01-03", true},
		{"long gap", "2023-12-01", true},
		{"no record yet", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := StreakRecord{StudentID: "s1", CurrentStreak: 3, LastPlayDate: tc.lastPlayDate}
			assert.Equal(t, tc.stale, rec.Stale(now, 0))
		})
	}
}
