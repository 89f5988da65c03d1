package services

import (
	"math"
	"sync"
)

// LevelConfig: XP needed for *next* level (e.g., level 1 → 2 needs BaseXPPerLevel * 1^1.2)
const baseXPPerLevel = 100

// xpForNextLevel returns XP required to reach level+1 from the given level.
func xpForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	return int64(float64(baseXPPerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// levelForXP walks the curve until the total no longer covers the next step.
func levelForXP(total int64) int {
	level := 1
	var cumulative int64
	for {
		need := xpForNextLevel(level)
		if total < cumulative+need {
			return level
		}
		cumulative += need
		level++
	}
}

// ProgressionTracker keeps an optimistic, local-only XP total per student so
// the pipeline can enqueue a level_up popup the instant a gain crosses a
// threshold. Purely presentational; the server's reconcile value replaces the
// local total whenever it arrives.
type ProgressionTracker struct {
	mu     sync.Mutex
	totals map[string]int64
}

func NewProgressionTracker() *ProgressionTracker {
	return &ProgressionTracker{totals: make(map[string]int64)}
}

// AddXP credits a local gain and reports whether it crossed a level boundary.
func (t *ProgressionTracker) AddXP(studentID string, amount int64) (leveledUp bool, newLevel int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := levelForXP(t.totals[studentID])
	t.totals[studentID] += amount
	after := levelForXP(t.totals[studentID])
	return after > before, after
}

// SetTotal replaces the local total with the server's authoritative one.
func (t *ProgressionTracker) SetTotal(studentID string, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals[studentID] = total
}

// Total returns the current optimistic total.
func (t *ProgressionTracker) Total(studentID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[studentID]
}

// Level returns the level implied by the current optimistic total.
func (t *ProgressionTracker) Level(studentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return levelForXP(t.totals[studentID])
}
