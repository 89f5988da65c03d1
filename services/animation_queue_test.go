package services

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-sync-system/models"
)

const (
	testDebounce = 800 * time.Millisecond
	testPause    = 300 * time.Millisecond
)

func newTestQueue(t *testing.T) (*AnimationQueueService, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return NewAnimationQueueService(clock, true, testDebounce, testPause), clock
}

// waitForState polls until the condition holds, because debounce and pause
// callbacks fire on timer goroutines.
func waitForState(t *testing.T, q *AnimationQueueService, cond func(models.AnimationState) bool) models.AnimationState {
	t.Helper()
	var last models.AnimationState
	require.Eventually(t, func() bool {
		last = q.State()
		return cond(last)
	}, time.Second, time.Millisecond)
	return last
}

func TestXPDebounce_TenRapidGainsBecomeOnePopup(t *testing.T) {
	q, clock := newTestQueue(t)

	for i := 0; i < 10; i++ {
		q.Enqueue(models.AnimationXP, models.AnimationData{Amount: 5})
		clock.Advance(10 * time.Millisecond)
	}

	st := q.State()
	assert.Nil(t, st.Current, "nothing shows while the window is open")
	assert.Equal(t, 0, st.QueueLength)
	assert.Equal(t, 10, st.BufferedXP)

	clock.Advance(testDebounce)

	st = waitForState(t, q, func(st models.AnimationState) bool { return st.Current != nil })
	assert.Equal(t, models.AnimationXP, st.Current.Type)
	assert.Equal(t, int64(50), st.Current.Data.Amount)
	assert.Equal(t, 10, st.Current.Data.Count)
	assert.Equal(t, 0, st.BufferedXP)
	assert.Equal(t, 0, st.QueueLength)
}

func TestXPDebounce_WindowRestartsOnEveryGain(t *testing.T) {
	q, clock := newTestQueue(t)

	q.Enqueue(models.AnimationXP, models.AnimationData{Amount: 5})
	clock.Advance(500 * time.Millisecond)
	q.Enqueue(models.AnimationXP, models.AnimationData{Amount: 5})
	clock.Advance(500 * time.Millisecond)

	// 1s since the first gain but only 500ms since the last: still buffering
	st := q.State()
	assert.Nil(t, st.Current)
	assert.Equal(t, 2, st.BufferedXP)

	clock.Advance(testDebounce - 500*time.Millisecond)
	st = waitForState(t, q, func(st models.AnimationState) bool { return st.Current != nil })
	assert.Equal(t, int64(10), st.Current.Data.Amount)
}

func TestFlushXPBuffer_ResolvesWindowImmediately(t *testing.T) {
	q, _ := newTestQueue(t)

	q.Enqueue(models.AnimationXP, models.AnimationData{Amount: 25})
	q.FlushXPBuffer()

	st := q.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, int64(25), st.Current.Data.Amount)
	assert.Equal(t, 0, st.BufferedXP)

	// flushing an idle buffer is a no-op
	q.FlushXPBuffer()
	assert.Equal(t, 0, q.State().QueueLength)
}

func TestPriorityOrdering_LevelUpXPBadgeDisplaysAsXPBadgeLevelUp(t *testing.T) {
	q, clock := newTestQueue(t)

	// occupy the display so the contenders queue up instead of auto-showing
	q.Enqueue(models.AnimationBonus, models.AnimationData{})
	require.Equal(t, models.AnimationBonus, q.State().Current.Type)

	q.Enqueue(models.AnimationLevelUp, models.AnimationData{Level: 3})
	q.Enqueue(models.AnimationXP, models.AnimationData{Amount: 5})
	q.FlushXPBuffer()
	q.Enqueue(models.AnimationBadge, models.AnimationData{BadgeID: "gold"})

	var order []models.AnimationType
	for i := 0; i < 3; i++ {
		q.Dismiss()
		clock.Advance(testPause)
		st := waitForState(t, q, func(st models.AnimationState) bool { return st.Current != nil })
		order = append(order, st.Current.Type)
	}

	assert.Equal(t, []models.AnimationType{
		models.AnimationXP,
		models.AnimationBadge,
		models.AnimationLevelUp,
	}, order)
}

func TestSingleFlight_OnlyOneAnimationShowing(t *testing.T) {
	q, _ := newTestQueue(t)

	q.Enqueue(models.AnimationBadge, models.AnimationData{BadgeID: "a"})
	q.Enqueue(models.AnimationStreak, models.AnimationData{Streak: 4})
	q.Enqueue(models.AnimationBonus, models.AnimationData{})

	st := q.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, models.AnimationBadge, st.Current.Type)
	assert.Equal(t, 2, st.QueueLength, "everything else waits")
}

func TestDismiss_PausesBeforeNextPopup(t *testing.T) {
	q, clock := newTestQueue(t)

	q.Enqueue(models.AnimationBadge, models.AnimationData{})
	q.Enqueue(models.AnimationStreak, models.AnimationData{})

	q.Dismiss()
	st := q.State()
	assert.Nil(t, st.Current, "nothing shows during the pause")
	assert.Equal(t, 1, st.QueueLength)

	// an arrival mid-pause must not jump the pause
	q.Enqueue(models.AnimationBonus, models.AnimationData{})
	assert.Nil(t, q.State().Current)

	clock.Advance(testPause)
	st = waitForState(t, q, func(st models.AnimationState) bool { return st.Current != nil })
	assert.Equal(t, models.AnimationStreak, st.Current.Type)
	assert.Equal(t, 1, st.QueueLength)
}

func TestDismiss_WithNothingShowingIsNoOp(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Dismiss()
	assert.Nil(t, q.State().Current)
	assert.Equal(t, 0, q.State().QueueLength)
}

func TestClearAll_EmptiesQueueBufferAndTimers(t *testing.T) {
	q, clock := newTestQueue(t)

	q.Enqueue(models.AnimationXP, models.AnimationData{Amount: 5})
	q.Enqueue(models.AnimationBadge, models.AnimationData{})
	q.Enqueue(models.AnimationStreak, models.AnimationData{})

	q.ClearAll()

	st := q.State()
	assert.Nil(t, st.Current)
	assert.Equal(t, 0, st.QueueLength)
	assert.Equal(t, 0, st.BufferedXP)

	// the canceled debounce window must not resurrect the buffer
	clock.Advance(testDebounce * 2)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, q.State().QueueLength)
	assert.Nil(t, q.State().Current)
}

func TestQueueingDisabled_EnqueueReplacesCurrent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewAnimationQueueService(clock, false, testDebounce, testPause)

	q.Enqueue(models.AnimationBadge, models.AnimationData{BadgeID: "a"})
	require.Equal(t, models.AnimationBadge, q.State().Current.Type)

	// xp skips the debounce buffer entirely in naive mode
	q.Enqueue(models.AnimationXP, models.AnimationData{Amount: 5})
	st := q.State()
	assert.Equal(t, models.AnimationXP, st.Current.Type)
	assert.Equal(t, 0, st.QueueLength)
	assert.Equal(t, 0, st.BufferedXP)
}

func TestSubscribe_ReceivesStateSnapshots(t *testing.T) {
	q, _ := newTestQueue(t)
	sub := q.Subscribe()

	q.Enqueue(models.AnimationBadge, models.AnimationData{BadgeID: "a"})

	select {
	case st := <-sub:
		require.NotNil(t, st.Current)
		assert.Equal(t, models.AnimationBadge, st.Current.Type)
	case <-time.After(time.Second):
		t.Fatal("no state snapshot received")
	}

	q.Unsubscribe(sub)
	q.Enqueue(models.AnimationStreak, models.AnimationData{})
}
