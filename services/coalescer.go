package services

import (
	"reward-sync-system/models"
)

// Coalesce transforms a list of pending events into the smallest equivalent
// set of transmission batches:
//
//   - xp_gain: one batch per student, amount summed, contributing count kept
//   - quest_progress: one batch per (student, quest), deltas summed
//   - quest_complete, badge_unlock: passed through 1:1
//
// Events already pinned to a batch key regroup by that key and nothing else:
// a batch, once transmitted, keeps its exact membership and idempotency key
// on every retry and never absorbs events that arrived later. Otherwise a
// response lost after the server applied the batch would let the retry carry
// a new event under the old key; the server would answer "duplicate" and the
// new event would be acked without ever being credited.
//
// The function is pure — it never mutates the outbox or its input, only
// produces a transmission view, so a failed transmission leaves the original
// granular events intact for retry.
func Coalesce(events []models.GameEvent) []models.CoalescedBatch {
	batches := make([]models.CoalescedBatch, 0, len(events))
	// index into batches for open aggregation groups; output keeps
	// first-appearance order
	groups := make(map[string]int)

	for _, ev := range events {
		key := groupKey(ev)
		if key == "" {
			// milestones and unknown kinds pass through untouched
			batches = append(batches, newBatch(ev))
			continue
		}
		if i, ok := groups[key]; ok {
			mergeInto(&batches[i], ev)
			continue
		}
		groups[key] = len(batches)
		batches = append(batches, newBatch(ev))
	}
	return batches
}

// groupKey decides which open batch an event may join. Empty means the event
// always forms its own batch.
func groupKey(ev models.GameEvent) string {
	if ev.BatchKey != "" {
		// retransmission: only its original batch, never a fresh group
		return "batch\x00" + ev.BatchKey
	}
	switch ev.Kind {
	case models.EventKindXPGain:
		return "xp\x00" + ev.StudentID
	case models.EventKindQuestProgress:
		return "quest\x00" + ev.StudentID + "\x00" + ev.Payload.QuestID
	}
	return ""
}

func mergeInto(b *models.CoalescedBatch, ev models.GameEvent) {
	b.Amount += ev.Payload.Amount
	b.Delta += ev.Payload.Delta
	b.Count++
	b.SourceIDs = append(b.SourceIDs, ev.ID)
}

// Passthrough produces one batch per event with no merging, for when
// coalescing is switched off. Events pinned to a batch key still regroup by
// it — the server must keep seeing the (key, content) pair it was already
// sent, even across a kill-switch flip.
func Passthrough(events []models.GameEvent) []models.CoalescedBatch {
	batches := make([]models.CoalescedBatch, 0, len(events))
	groups := make(map[string]int)

	for _, ev := range events {
		if ev.BatchKey != "" {
			if i, ok := groups[ev.BatchKey]; ok {
				mergeInto(&batches[i], ev)
				continue
			}
			groups[ev.BatchKey] = len(batches)
		}
		batches = append(batches, newBatch(ev))
	}
	return batches
}

func newBatch(ev models.GameEvent) models.CoalescedBatch {
	id := ev.BatchKey
	if id == "" {
		id = ev.ID
	}
	return models.CoalescedBatch{
		EventID:   id,
		Kind:      ev.Kind,
		StudentID: ev.StudentID,
		Amount:    ev.Payload.Amount,
		QuestID:   ev.Payload.QuestID,
		Delta:     ev.Payload.Delta,
		BadgeID:   ev.Payload.BadgeID,
		Count:     1,
		SourceIDs: []string{ev.ID},
		CreatedAt: ev.CreatedAt,
	}
}
