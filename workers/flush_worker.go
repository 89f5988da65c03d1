// workers/flush_worker.go
package workers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"reward-sync-system/models"
	"reward-sync-system/services"
	"reward-sync-system/utils"
)

// Transport is the outbound half of the pipeline. *ServerClient implements it.
type Transport interface {
	SubmitBatch(ctx context.Context, batches []models.CoalescedBatch) (*BatchResponse, error)
}

// FlushWorker drains the outbox to the server. At most one flush is ever in
// flight: a request arriving while one is active is deferred and run once
// afterwards, never duplicated. Transient transport failures don't charge the
// events an attempt — they go straight back to pending — but they do stretch
// the interval between scheduled flushes exponentially so a dead network
// isn't hammered.
type FlushWorker struct {
	outbox    *services.OutboxService
	transport Transport
	reporter  *services.PipelineReporter
	archive   *utils.QuarantineArchive // optional, may be nil
	flags     services.FeatureFlags
	clock     clockwork.Clock

	backoffBase time.Duration
	backoffCap  time.Duration

	mu          sync.Mutex
	flushing    bool
	deferred    bool
	failStreak  int
	nextAllowed time.Time

	kick chan bool // value: force past the transient backoff
}

func NewFlushWorker(
	outbox *services.OutboxService,
	transport Transport,
	reporter *services.PipelineReporter,
	archive *utils.QuarantineArchive,
	flags services.FeatureFlags,
	clock clockwork.Clock,
) *FlushWorker {
	return &FlushWorker{
		outbox:      outbox,
		transport:   transport,
		reporter:    reporter,
		archive:     archive,
		flags:       flags,
		clock:       clock,
		backoffBase: 2 * time.Second,
		backoffCap:  5 * time.Minute,
		kick:        make(chan bool, 1),
	}
}

// Start runs the flush loop until the context is canceled. Timing comes from
// outside (the scheduler and manual kicks); the worker only owns the
// single-flight discipline.
func (w *FlushWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting flush worker…")
	for {
		select {
		case force := <-w.kick:
			if !force && !w.allowed() {
				continue
			}
			if err := w.Flush(ctx); err != nil {
				log.Printf("[FLUSH] ❌ flush failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Flush worker stopped")
			return
		}
	}
}

// Kick requests a scheduled flush; dropped if one is already queued.
func (w *FlushWorker) Kick() {
	select {
	case w.kick <- false:
	default:
	}
}

// KickNow requests a flush that ignores the transient-failure backoff, for
// the UI's explicit visibility-change signal. A scheduled kick already queued
// is promoted to a forced one, never kept in its place.
func (w *FlushWorker) KickNow() {
	select {
	case w.kick <- true:
		return
	default:
	}
	select {
	case <-w.kick:
	default:
	}
	select {
	case w.kick <- true:
	default:
	}
}

func (w *FlushWorker) allowed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.clock.Now().Before(w.nextAllowed)
}

// Flush performs one flush cycle, single-flight. A call arriving mid-flush
// marks the cycle deferred and returns immediately; the active flush reruns
// once on completion so nothing reported in between is stranded until the
// next tick.
func (w *FlushWorker) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.flushing {
		w.deferred = true
		w.mu.Unlock()
		return nil
	}
	w.flushing = true
	w.mu.Unlock()

	var lastErr error
	for {
		lastErr = w.flushOnce(ctx)

		w.mu.Lock()
		if !w.deferred {
			w.flushing = false
			w.mu.Unlock()
			return lastErr
		}
		w.deferred = false
		w.mu.Unlock()
	}
}

func (w *FlushWorker) flushOnce(ctx context.Context) error {
	due, err := w.outbox.Due()
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	var batches []models.CoalescedBatch
	if w.flags.CoalesceEnabled {
		batches = services.Coalesce(due)
	} else {
		batches = services.Passthrough(due)
	}

	// pin membership before transmitting: from here on these events retry
	// only as these exact batches, under these exact keys
	if err := w.outbox.AssignBatches(batches); err != nil {
		return err
	}

	ids := make([]string, len(due))
	for i, ev := range due {
		ids[i] = ev.ID
	}
	if err := w.outbox.MarkInFlight(ids); err != nil {
		return err
	}

	resp, err := w.transport.SubmitBatch(ctx, batches)
	if err != nil {
		// transient: everything goes straight back to pending, no attempt
		// charged — a network outage says nothing about the events
		if revertErr := w.outbox.RevertPending(ids); revertErr != nil {
			log.Printf("[FLUSH] ⚠️ failed to revert in-flight events: %v", revertErr)
		}
		w.noteTransientFailure()
		w.reporter.Report(services.PipelineError{
			Kind:       services.ErrorKindTransientNetwork,
			Message:    err.Error(),
			OccurredAt: w.clock.Now(),
		})
		return fmt.Errorf("batch transmission failed: %w", err)
	}
	w.clearTransientBackoff()

	resultByID := make(map[string]BatchResult, len(resp.Results))
	for _, r := range resp.Results {
		resultByID[r.EventID] = r
	}

	var synced, orphaned []string
	for _, b := range batches {
		res, ok := resultByID[b.EventID]
		switch {
		case !ok:
			// server said nothing about this batch; retry it next cycle
			orphaned = append(orphaned, b.SourceIDs...)
		case res.Status == BatchStatusRejected:
			w.handleRejection(ctx, b, res)
		default: // accepted or duplicate
			synced = append(synced, b.SourceIDs...)
		}
	}

	if err := w.outbox.MarkSynced(synced); err != nil {
		return err
	}
	if err := w.outbox.RevertPending(orphaned); err != nil {
		return err
	}

	log.Printf("[FLUSH] ✅ %d event(s) in %d batch(es): %d synced, %d unresolved",
		len(due), len(batches), len(synced), len(due)-len(synced))
	return nil
}

// handleRejection charges the rejected batch's originals an attempt and
// reports/archives any that hit the retry cap. A malformed event never blocks
// the rest of the flush.
func (w *FlushWorker) handleRejection(ctx context.Context, b models.CoalescedBatch, res BatchResult) {
	log.Printf("[FLUSH] 🚫 batch %s (%s) rejected: %s", b.EventID, b.Kind, res.Reason)
	quarantined, err := w.outbox.MarkFailed(b.SourceIDs, res.Reason)
	if err != nil {
		log.Printf("[FLUSH] ⚠️ failed to mark rejected events: %v", err)
		return
	}
	for _, ev := range quarantined {
		w.reporter.Report(services.PipelineError{
			Kind:       services.ErrorKindQuarantine,
			StudentID:  ev.StudentID,
			EventID:    ev.ID,
			Message:    fmt.Sprintf("event quarantined after %d attempts: %s", ev.Attempts, ev.LastError),
			OccurredAt: w.clock.Now(),
		})
		if w.archive != nil {
			if err := w.archive.ArchiveEvent(ctx, ev); err != nil {
				log.Printf("[FLUSH] ⚠️ failed to archive quarantined event %s: %v", ev.ID, err)
			}
		}
	}
}

func (w *FlushWorker) noteTransientFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	backoff := w.backoffBase << w.failStreak
	if backoff >= w.backoffCap {
		// streak stops growing at the cap so the shift stays bounded no
		// matter how long the outage lasts
		backoff = w.backoffCap
	} else {
		w.failStreak++
	}
	w.nextAllowed = w.clock.Now().Add(backoff)
}

func (w *FlushWorker) clearTransientBackoff() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failStreak = 0
	w.nextAllowed = time.Time{}
}

// FinalFlush is the best-effort last transmission on shutdown — the page-hide
// analogue. It complements the periodic flush, never replaces it: the durable
// outbox is the real guarantee.
func (w *FlushWorker) FinalFlush(timeout time.Duration) {
	if !w.flags.UnloadFlushEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		log.Printf("[FLUSH] ⚠️ final flush incomplete (events remain durable): %v", err)
	}
}
