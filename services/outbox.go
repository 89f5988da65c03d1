package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reward-sync-system/models"
)

// OutboxService owns the durable, client-local event store. Enqueue never
// blocks or errors toward the caller; if local storage is unavailable the
// outbox degrades to an in-memory mirror (best effort, events may be lost on
// restart) rather than crashing the event source.
type OutboxService struct {
	db          *gorm.DB
	reporter    *PipelineReporter
	clock       clockwork.Clock
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	mu       sync.Mutex
	degraded bool
	memory   []models.GameEvent
	memIDs   map[string]bool
}

func NewOutboxService(db *gorm.DB, reporter *PipelineReporter, clock clockwork.Clock) *OutboxService {
	return &OutboxService{
		db:          db,
		reporter:    reporter,
		clock:       clock,
		maxAttempts: 5,
		backoffBase: 2 * time.Second,
		backoffCap:  5 * time.Minute,
		memIDs:      make(map[string]bool),
	}
}

// Enqueue durably appends an event. A repeated ID is a no-op (defensive
// idempotency at the client too, ahead of the server's own check).
func (s *OutboxService) Enqueue(ev models.GameEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	ev.SyncState = models.SyncStatePending

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		s.memAppend(ev)
		return
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&ev).Error
	if err != nil {
		s.degrade(err)
		s.memAppend(ev)
	}
}

// degrade flips the outbox to in-memory-only mode. Called with mu held.
func (s *OutboxService) degrade(cause error) {
	if s.degraded {
		return
	}
	s.degraded = true
	s.reporter.Report(PipelineError{
		Kind:       ErrorKindStorageDegraded,
		Message:    fmt.Sprintf("local event store unavailable, continuing in memory: %v", cause),
		OccurredAt: s.clock.Now(),
	})
}

func (s *OutboxService) memAppend(ev models.GameEvent) {
	if s.memIDs[ev.ID] {
		return
	}
	s.memIDs[ev.ID] = true
	s.memory = append(s.memory, ev)
}

// Degraded reports whether the outbox has fallen back to memory.
func (s *OutboxService) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Due returns every event eligible for the next flush: pending ones plus
// failed ones whose backoff has elapsed, oldest first.
func (s *OutboxService) Due() ([]models.GameEvent, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		var due []models.GameEvent
		for _, ev := range s.memory {
			if eligible(ev, now) {
				due = append(due, ev)
			}
		}
		return due, nil
	}

	var due []models.GameEvent
	err := s.db.
		Where("sync_state = ?", models.SyncStatePending).
		Or("sync_state = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", models.SyncStateFailed, now).
		Order("created_at ASC").
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read due events: %w", err)
	}
	return due, nil
}

func eligible(ev models.GameEvent, now time.Time) bool {
	switch ev.SyncState {
	case models.SyncStatePending:
		return true
	case models.SyncStateFailed:
		return ev.NextRetryAt == nil || !ev.NextRetryAt.After(now)
	}
	return false
}

// AssignBatches pins each batch's source events to the batch's idempotency
// key before transmission, so a pinned event only ever retries inside that
// same batch and the server sees an unchanged (key, membership) pair on every
// retry. Re-pinning an already-pinned event writes the same key back.
func (s *OutboxService) AssignBatches(batches []models.CoalescedBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range batches {
		key := b.EventID
		if s.degraded {
			s.memUpdate(b.SourceIDs, func(ev *models.GameEvent) { ev.BatchKey = key })
			continue
		}
		err := s.db.Model(&models.GameEvent{}).
			Where("id IN ?", b.SourceIDs).
			Update("batch_key", key).Error
		if err != nil {
			return fmt.Errorf("failed to pin events to batch %s: %w", key, err)
		}
	}
	return nil
}

// MarkInFlight stamps events as handed to the transport.
func (s *OutboxService) MarkInFlight(ids []string) error {
	return s.setState(ids, models.SyncStateInFlight)
}

// RevertPending puts in-flight events back to pending untouched, used when a
// whole transmission fails transiently. No attempt is charged: a network
// outage says nothing about the events themselves.
func (s *OutboxService) RevertPending(ids []string) error {
	return s.setState(ids, models.SyncStatePending)
}

func (s *OutboxService) setState(ids []string, state models.SyncState) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		s.memUpdate(ids, func(ev *models.GameEvent) { ev.SyncState = state })
		return nil
	}
	err := s.db.Model(&models.GameEvent{}).
		Where("id IN ?", ids).
		Update("sync_state", state).Error
	if err != nil {
		return fmt.Errorf("failed to mark events %s: %w", state, err)
	}
	return nil
}

// MarkSynced records server acknowledgment. The rows stay inspectable until
// PurgeSynced removes them.
func (s *OutboxService) MarkSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		s.memUpdate(ids, func(ev *models.GameEvent) { ev.SyncState = models.SyncStateSynced })
		return nil
	}
	err := s.db.Model(&models.GameEvent{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"sync_state":    models.SyncStateSynced,
			"next_retry_at": nil,
			"last_error":    "",
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark events synced: %w", err)
	}
	return nil
}

// MarkFailed charges one attempt against each event and schedules the retry
// with exponential backoff. Events at the retry cap are quarantined and
// returned so the caller can report and archive them; they no longer block
// other events from flushing.
func (s *OutboxService) MarkFailed(ids []string, reason string) ([]models.GameEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		var quarantined []models.GameEvent
		s.memUpdate(ids, func(ev *models.GameEvent) {
			s.fail(ev, reason, now)
			if ev.SyncState == models.SyncStateQuarantined {
				quarantined = append(quarantined, *ev)
			}
		})
		return quarantined, nil
	}

	var events []models.GameEvent
	if err := s.db.Where("id IN ?", ids).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load events for failure marking: %w", err)
	}

	var quarantined []models.GameEvent
	for i := range events {
		s.fail(&events[i], reason, now)
		if events[i].SyncState == models.SyncStateQuarantined {
			quarantined = append(quarantined, events[i])
		}
		err := s.db.Model(&models.GameEvent{}).
			Where("id = ?", events[i].ID).
			Updates(map[string]interface{}{
				"sync_state":    events[i].SyncState,
				"attempts":      events[i].Attempts,
				"next_retry_at": events[i].NextRetryAt,
				"last_error":    events[i].LastError,
			}).Error
		if err != nil {
			return quarantined, fmt.Errorf("failed to mark event %s failed: %w", events[i].ID, err)
		}
	}
	return quarantined, nil
}

// fail applies the failure transition to a single event in place.
func (s *OutboxService) fail(ev *models.GameEvent, reason string, now time.Time) {
	ev.Attempts++
	ev.LastError = reason
	if ev.Attempts >= s.maxAttempts {
		ev.SyncState = models.SyncStateQuarantined
		ev.NextRetryAt = nil
		return
	}
	backoff := s.backoffBase << (ev.Attempts - 1)
	if backoff > s.backoffCap {
		backoff = s.backoffCap
	}
	next := now.Add(backoff)
	ev.SyncState = models.SyncStateFailed
	ev.NextRetryAt = &next
}

func (s *OutboxService) memUpdate(ids []string, fn func(*models.GameEvent)) {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	for i := range s.memory {
		if idSet[s.memory[i].ID] {
			fn(&s.memory[i])
		}
	}
}

// RecoverInFlight reverts events stranded in_flight by a crash or kill back
// to pending. Run once at startup, before the flush worker starts; idempotent
// re-submission is safe because the server dedupes on event ID.
func (s *OutboxService) RecoverInFlight() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return nil
	}
	err := s.db.Model(&models.GameEvent{}).
		Where("sync_state = ?", models.SyncStateInFlight).
		Update("sync_state", models.SyncStatePending).Error
	if err != nil {
		return fmt.Errorf("failed to recover in-flight events: %w", err)
	}
	return nil
}

// PurgeSynced removes acknowledged events older than the retention window.
func (s *OutboxService) PurgeSynced(olderThan time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		var kept []models.GameEvent
		var removed int64
		for _, ev := range s.memory {
			if ev.SyncState == models.SyncStateSynced && ev.CreatedAt.Before(cutoff) {
				delete(s.memIDs, ev.ID)
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		s.memory = kept
		return removed, nil
	}

	res := s.db.
		Where("sync_state = ? AND created_at < ?", models.SyncStateSynced, cutoff).
		Delete(&models.GameEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge synced events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Counts returns per-state totals for the status endpoint.
func (s *OutboxService) Counts() (map[models.SyncState]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.SyncState]int64)
	if s.degraded {
		for _, ev := range s.memory {
			counts[ev.SyncState]++
		}
		return counts, nil
	}

	type row struct {
		SyncState models.SyncState
		N         int64
	}
	var rows []row
	err := s.db.Model(&models.GameEvent{}).
		Select("sync_state, COUNT(*) as n").
		Group("sync_state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	for _, r := range rows {
		counts[r.SyncState] = r.N
	}
	return counts, nil
}
