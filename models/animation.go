package models

import "time"

// AnimationType identifies a reward popup variant
type AnimationType string

const (
	AnimationXP            AnimationType = "xp"
	AnimationQuestComplete AnimationType = "quest_complete"
	AnimationBadge         AnimationType = "badge"
	AnimationStreak        AnimationType = "streak"
	AnimationLevelUp       AnimationType = "level_up"
	AnimationBonus         AnimationType = "bonus"
)

// Fixed scheduling order: cheap, frequent popups (xp) drain first so the
// queue never backs up behind them; level-ups show last so the player sees
// the cumulative effect once the smaller events have resolved. Lower number
// shows sooner. This is scheduling order, not business importance.
var animationPriorities = map[AnimationType]int{
	AnimationXP:            1,
	AnimationQuestComplete: 2,
	AnimationBadge:         3,
	AnimationStreak:        4,
	AnimationLevelUp:       5,
	AnimationBonus:         6,
}

// Priority returns the scheduling priority for the type. Unknown types sort
// after every known one.
func (t AnimationType) Priority() int {
	if p, ok := animationPriorities[t]; ok {
		return p
	}
	return len(animationPriorities) + 1
}

// AnimationData carries whatever the popup renders. Fields are type-specific.
type AnimationData struct {
	Amount  int64  `json:"amount,omitempty"`
	Count   int    `json:"count,omitempty"`
	QuestID string `json:"quest_id,omitempty"`
	BadgeID string `json:"badge_id,omitempty"`
	Streak  int    `json:"streak,omitempty"`
	Level   int    `json:"level,omitempty"`
}

// QueuedAnimation is one scheduled popup.
type QueuedAnimation struct {
	ID        string        `json:"id"`
	Type      AnimationType `json:"type"`
	Data      AnimationData `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
	Priority  int           `json:"priority"`
}

// AnimationState is the snapshot pushed to UI subscribers on every change.
type AnimationState struct {
	Current     *QueuedAnimation `json:"current"`
	QueueLength int              `json:"queue_length"`
	BufferedXP  int              `json:"buffered_xp_count"`
}
