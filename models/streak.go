package models

import (
	"time"

	"gorm.io/gorm"
)

const dayKeyLayout = "2006-01-02"

// StreakOrigin says which side last wrote the record
type StreakOrigin string

const (
	StreakOriginLocal  StreakOrigin = "local"
	StreakOriginServer StreakOrigin = "server"
)

// StreakRecord caches the daily-play streak for one student. CurrentStreak is
// only ever 0, previous+1, or reset to 1 — playing today always counts as day
// one of a (new) streak.
type StreakRecord struct {
	StudentID     string       `gorm:"primaryKey;type:varchar(64)" json:"student_id"`
	CurrentStreak int          `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak int          `gorm:"not null;default:0" json:"longest_streak"`
	LastPlayDate  string       `gorm:"type:varchar(10)" json:"last_play_date"` // day key, e.g. "2024-01-05"
	Origin        StreakOrigin `gorm:"type:varchar(8);not null;default:'local'" json:"origin"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// DayKey maps an instant to its effective calendar day. The cutover hour
// attributes very-early-morning play to the previous day (a 2am session with
// cutover 3 still counts as yesterday). Every streak computation in the
// pipeline goes through this one function so the day-boundary rule cannot
// diverge between components.
func DayKey(t time.Time, cutoverHour int) string {
	return t.Add(-time.Duration(cutoverHour) * time.Hour).Format(dayKeyLayout)
}

// PreviousDayKey returns the day key of the effective day before t.
func PreviousDayKey(t time.Time, cutoverHour int) string {
	eff := t.Add(-time.Duration(cutoverHour) * time.Hour)
	return eff.AddDate(0, 0, -1).Format(dayKeyLayout)
}

// Stale reports whether the cached record describes a broken streak: a
// lastPlayDate older than yesterday cannot still be alive, so it must display
// as 0 even before the server confirms.
func (r *StreakRecord) Stale(now time.Time, cutoverHour int) bool {
	if r.LastPlayDate == "" {
		return false
	}
	// day keys are ISO dates; lexical comparison is chronological
	return r.LastPlayDate < PreviousDayKey(now, cutoverHour)
}

// ServerProgress is the authoritative snapshot read back from the server for
// reconciliation.
type ServerProgress struct {
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	LastPlayDate  string `json:"last_play_date"`
	TotalXP       int64  `json:"total_xp"`
	GamesPlayed   int64  `json:"games_played"`
}
