package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnimationPriorityOrder(t *testing.T) {
	assert.Less(t, AnimationXP.Priority(), AnimationQuestComplete.Priority())
	assert.Less(t, AnimationQuestComplete.Priority(), AnimationBadge.Priority())
	assert.Less(t, AnimationBadge.Priority(), AnimationStreak.Priority())
	assert.Less(t, AnimationStreak.Priority(), AnimationLevelUp.Priority())
	assert.Less(t, AnimationLevelUp.Priority(), AnimationBonus.Priority())
}

func TestAnimationPriorityUnknownSortsLast(t *testing.T) {
	assert.Greater(t, AnimationType("confetti").Priority(), AnimationBonus.Priority())
}
