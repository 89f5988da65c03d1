package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reward-sync-system/models"
)

// ProgressFetcher reads the server's authoritative progression snapshot.
type ProgressFetcher interface {
	FetchProgress(ctx context.Context, studentID string) (*models.ServerProgress, error)
}

// StreakService computes "did this play extend the daily streak" from locally
// cached state first, then reconciles with the server asynchronously. The UI
// never waits on the network for a streak answer.
type StreakService struct {
	db          *gorm.DB
	clock       clockwork.Clock
	cutoverHour int
	fetcher     ProgressFetcher
	animations  *AnimationQueueService
	progression *ProgressionTracker
	reporter    *PipelineReporter

	mu sync.Mutex
}

func NewStreakService(
	db *gorm.DB,
	clock clockwork.Clock,
	cutoverHour int,
	fetcher ProgressFetcher,
	animations *AnimationQueueService,
	progression *ProgressionTracker,
	reporter *PipelineReporter,
) *StreakService {
	return &StreakService{
		db:          db,
		clock:       clock,
		cutoverHour: cutoverHour,
		fetcher:     fetcher,
		animations:  animations,
		progression: progression,
		reporter:    reporter,
	}
}

// Current returns the cached record adjusted for staleness: a streak whose
// last play is older than yesterday is broken, so it displays as 0 even
// before the server confirms it.
func (s *StreakService) Current(studentID string) (*models.StreakRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(studentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &models.StreakRecord{StudentID: studentID, Origin: models.StreakOriginLocal}, nil
	}
	display := *rec
	if display.Stale(s.clock.Now(), s.cutoverHour) {
		display.CurrentStreak = 0
	}
	return &display, nil
}

// CheckAndUpdate runs the first-play-of-day logic:
//
//   - same effective day as lastPlayDate → no-op (already counted)
//   - lastPlayDate was exactly yesterday → streak += 1
//   - gap of two or more days, or no record → streak resets to 1, because
//     playing today always counts as day one of a (new) streak
//
// The updated record is written to the local cache synchronously and server
// reconciliation happens in the background; on an increase, a streak popup is
// enqueued.
func (s *StreakService) CheckAndUpdate(studentID string) (*models.StreakRecord, error) {
	now := s.clock.Now()
	today := models.DayKey(now, s.cutoverHour)
	yesterday := models.PreviousDayKey(now, s.cutoverHour)

	s.mu.Lock()
	rec, err := s.loadLocked(studentID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if rec == nil {
		rec = &models.StreakRecord{StudentID: studentID}
	}

	if rec.LastPlayDate == today {
		display := *rec
		s.mu.Unlock()
		return &display, nil
	}

	displayedBefore := rec.CurrentStreak
	if rec.Stale(now, s.cutoverHour) {
		displayedBefore = 0
	}

	switch rec.LastPlayDate {
	case yesterday:
		rec.CurrentStreak++
	default:
		rec.CurrentStreak = 1
	}
	if rec.CurrentStreak > rec.LongestStreak {
		rec.LongestStreak = rec.CurrentStreak
	}
	rec.LastPlayDate = today
	rec.Origin = models.StreakOriginLocal

	if err := s.saveLocked(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	updated := *rec
	s.mu.Unlock()

	if updated.CurrentStreak > displayedBefore {
		s.animations.Enqueue(models.AnimationStreak, models.AnimationData{
			Streak: updated.CurrentStreak,
		})
	}

	// background reconcile; the caller proceeds with the optimistic record
	s.ReconcileAsync(studentID)

	return &updated, nil
}

// ReconcileAsync runs Reconcile in the background, routing failures to the
// error side channel instead of the caller.
func (s *StreakService) ReconcileAsync(studentID string) {
	go func() {
		if err := s.Reconcile(context.Background(), studentID); err != nil {
			s.reporter.Report(PipelineError{
				Kind:       ErrorKindReconcileFailed,
				StudentID:  studentID,
				Message:    err.Error(),
				OccurredAt: s.clock.Now(),
			})
		}
	}()
}

// Reconcile fetches the server's authoritative value and adopts it unless it
// lags the local record (a local play still sitting in the outbox would
// otherwise be wiped and re-extended, double-animating). On adoption the
// cache is rewritten with origin=server and the local XP total is replaced.
func (s *StreakService) Reconcile(ctx context.Context, studentID string) error {
	prog, err := s.fetcher.FetchProgress(ctx, studentID)
	if err != nil {
		return fmt.Errorf("failed to fetch server progress for %s: %w", studentID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(studentID)
	if err != nil {
		return err
	}
	if rec != nil && rec.Origin == models.StreakOriginLocal && prog.LastPlayDate < rec.LastPlayDate {
		// server hasn't seen our latest play yet; keep the optimistic record
		return nil
	}

	updated := models.StreakRecord{
		StudentID:     studentID,
		CurrentStreak: prog.CurrentStreak,
		LongestStreak: prog.LongestStreak,
		LastPlayDate:  prog.LastPlayDate,
		Origin:        models.StreakOriginServer,
	}
	if err := s.saveLocked(&updated); err != nil {
		return err
	}
	if s.progression != nil {
		s.progression.SetTotal(studentID, prog.TotalXP)
	}
	return nil
}

// SweepStale is the daily job: it counts cached streaks that have silently
// broken so operators can see reconciliation lag. Display-side adjustment
// happens in Current regardless.
func (s *StreakService) SweepStale() {
	now := s.clock.Now()
	yesterday := models.PreviousDayKey(now, s.cutoverHour)

	var stale int64
	err := s.db.Model(&models.StreakRecord{}).
		Where("last_play_date <> '' AND last_play_date < ? AND current_streak > 0", yesterday).
		Count(&stale).Error
	if err != nil {
		log.Printf("[STREAK] ⚠️ stale sweep failed: %v", err)
		return
	}
	if stale > 0 {
		log.Printf("[STREAK] 🧹 %d cached streak(s) are stale and display as 0", stale)
	}
}

func (s *StreakService) loadLocked(studentID string) (*models.StreakRecord, error) {
	var rec models.StreakRecord
	err := s.db.Where("student_id = ?", studentID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load streak record for %s: %w", studentID, err)
	}
	return &rec, nil
}

func (s *StreakService) saveLocked(rec *models.StreakRecord) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_streak", "longest_streak", "last_play_date", "origin", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save streak record for %s: %w", rec.StudentID, err)
	}
	return nil
}
