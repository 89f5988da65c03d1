package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"reward-sync-system/models"
)

// PipelineService is the single entry point game/quest/streak code calls to
// report an outcome. ReportEvent is fire-and-forget: it durably records the
// event for background sync and schedules the optimistic on-screen feedback,
// and sync-path failures are never surfaced back through it.
type PipelineService struct {
	outbox      *OutboxService
	animations  *AnimationQueueService
	progression *ProgressionTracker
	clock       clockwork.Clock
}

func NewPipelineService(
	outbox *OutboxService,
	animations *AnimationQueueService,
	progression *ProgressionTracker,
	clock clockwork.Clock,
) *PipelineService {
	return &PipelineService{
		outbox:      outbox,
		animations:  animations,
		progression: progression,
		clock:       clock,
	}
}

// ReportEvent records one game outcome. The returned event carries the
// client-generated ID that will dedupe it on the server.
func (p *PipelineService) ReportEvent(kind models.EventKind, payload models.EventPayload, studentID string) (models.GameEvent, error) {
	if !models.ValidEventKind(kind) {
		return models.GameEvent{}, fmt.Errorf("unknown event kind %q", kind)
	}
	if studentID == "" {
		return models.GameEvent{}, fmt.Errorf("student id is required")
	}

	ev := models.GameEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		StudentID: studentID,
		Payload:   payload,
		CreatedAt: p.clock.Now(),
	}
	p.outbox.Enqueue(ev)

	switch kind {
	case models.EventKindXPGain:
		p.animations.Enqueue(models.AnimationXP, models.AnimationData{Amount: payload.Amount})
		if leveled, level := p.progression.AddXP(studentID, payload.Amount); leveled {
			p.animations.Enqueue(models.AnimationLevelUp, models.AnimationData{Level: level})
		}
	case models.EventKindQuestComplete:
		p.animations.Enqueue(models.AnimationQuestComplete, models.AnimationData{QuestID: payload.QuestID})
	case models.EventKindBadgeUnlock:
		p.animations.Enqueue(models.AnimationBadge, models.AnimationData{BadgeID: payload.BadgeID})
	case models.EventKindQuestProgress:
		// incremental progress is synced but not celebrated
	}

	return ev, nil
}
