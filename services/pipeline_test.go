package services

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-sync-system/models"
)

func newTestPipeline(t *testing.T) (*PipelineService, *OutboxService, *AnimationQueueService, *ProgressionTracker) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	outbox := NewOutboxService(newTestDB(t), NewPipelineReporter(), clock)
	animations := NewAnimationQueueService(clock, true, testDebounce, testPause)
	progression := NewProgressionTracker()
	return NewPipelineService(outbox, animations, progression, clock), outbox, animations, progression
}

func TestReportEvent_RejectsUnknownKindAndMissingStudent(t *testing.T) {
	pipeline, outbox, _, _ := newTestPipeline(t)

	_, err := pipeline.ReportEvent("teleport", models.EventPayload{}, "s1")
	require.Error(t, err)

	_, err = pipeline.ReportEvent(models.EventKindXPGain, models.EventPayload{Amount: 5}, "")
	require.Error(t, err)

	due, err := outbox.Due()
	require.NoError(t, err)
	assert.Empty(t, due, "rejected reports never reach the outbox")
}

func TestReportEvent_XPGainIsDurableAndBuffered(t *testing.T) {
	pipeline, outbox, animations, _ := newTestPipeline(t)

	ev, err := pipeline.ReportEvent(models.EventKindXPGain, models.EventPayload{Amount: 15}, "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID, "the client generates the dedupe ID")

	due, err := outbox.Due()
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, ev.ID, due[0].ID)
	assert.Equal(t, int64(15), due[0].Payload.Amount)

	st := animations.State()
	assert.Nil(t, st.Current, "xp feedback waits out the debounce window")
	assert.Equal(t, 1, st.BufferedXP)
}

func TestReportEvent_LevelUpPopupOnThresholdCross(t *testing.T) {
	pipeline, _, animations, progression := newTestPipeline(t)

	_, err := pipeline.ReportEvent(models.EventKindXPGain, models.EventPayload{Amount: 60}, "s1")
	require.NoError(t, err)
	assert.Nil(t, animations.State().Current, "60 xp doesn't cross the first boundary")

	// the second gain pushes the total past 100 and level 2 pops immediately,
	// while the xp amounts stay buffered
	_, err = pipeline.ReportEvent(models.EventKindXPGain, models.EventPayload{Amount: 60}, "s1")
	require.NoError(t, err)

	st := animations.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, models.AnimationLevelUp, st.Current.Type)
	assert.Equal(t, 2, st.Current.Data.Level)
	assert.Equal(t, 2, st.BufferedXP)
	assert.Equal(t, 2, progression.Level("s1"))
}

func TestReportEvent_MilestonesShowImmediately(t *testing.T) {
	pipeline, outbox, animations, _ := newTestPipeline(t)

	_, err := pipeline.ReportEvent(models.EventKindQuestComplete, models.EventPayload{QuestID: "q1"}, "s1")
	require.NoError(t, err)

	st := animations.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, models.AnimationQuestComplete, st.Current.Type)
	assert.Equal(t, "q1", st.Current.Data.QuestID)

	_, err = pipeline.ReportEvent(models.EventKindBadgeUnlock, models.EventPayload{BadgeID: "gold"}, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, animations.State().QueueLength, "the badge waits behind the quest popup")

	due, err := outbox.Due()
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestReportEvent_QuestProgressSyncsWithoutCelebrating(t *testing.T) {
	pipeline, outbox, animations, _ := newTestPipeline(t)

	_, err := pipeline.ReportEvent(models.EventKindQuestProgress, models.EventPayload{QuestID: "q1", Delta: 2}, "s1")
	require.NoError(t, err)

	due, dueErr := outbox.Due()
	require.NoError(t, dueErr)
	require.Len(t, due, 1)

	st := animations.State()
	assert.Nil(t, st.Current)
	assert.Equal(t, 0, st.QueueLength)
}

func TestLevelCurve_MonotonicAndStartsAtOne(t *testing.T) {
	assert.Equal(t, 1, levelForXP(0))
	assert.Equal(t, 1, levelForXP(99))
	assert.Equal(t, 2, levelForXP(100))

	prev := 0
	for total := int64(0); total <= 5000; total += 250 {
		level := levelForXP(total)
		assert.GreaterOrEqual(t, level, prev)
		prev = level
	}
}
