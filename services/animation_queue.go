package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"reward-sync-system/models"
)

// xpBufferState is the debounce state machine for xp popups. Transitions:
// idle → buffering on the first xp request; buffering → idle when the window
// elapses with no new request (the buffered total is flushed into the queue)
// or when the buffer is force-flushed or cleared. Every new xp request inside
// the window restarts the timer.
type xpBufferState int

const (
	xpIdle xpBufferState = iota
	xpBuffering
)

// AnimationQueueService presents reward feedback one popup at a time, in
// priority order, without dropping anything. It holds no server-communication
// responsibility; the events it schedules are already known to be true.
//
// All public methods are synchronous and non-blocking. The only deferred work
// is timer-driven: the xp debounce window and the short pause between a
// dismissal and the next popup.
type AnimationQueueService struct {
	clock    clockwork.Clock
	queueing bool
	debounce time.Duration
	pause    time.Duration

	mu      sync.Mutex
	queue   []models.QueuedAnimation
	current *models.QueuedAnimation
	pausing bool

	xpState  xpBufferState
	xpAmount int64
	xpCount  int
	xpTimer  clockwork.Timer
	xpGen    uint64 // invalidates debounce callbacks that lost a restart race

	dismissTimer clockwork.Timer

	subs []chan models.AnimationState
}

// NewAnimationQueueService builds the queue. With queueing disabled (kill
// switch) every enqueue immediately replaces the current popup: the naive
// pre-queue behavior.
func NewAnimationQueueService(clock clockwork.Clock, queueing bool, debounce, pause time.Duration) *AnimationQueueService {
	return &AnimationQueueService{
		clock:    clock,
		queueing: queueing,
		debounce: debounce,
		pause:    pause,
	}
}

// Enqueue schedules a popup. xp requests accumulate in the debounce buffer —
// rapid ticks collapse into one popup carrying the summed amount — while
// every other type is inserted into the priority queue directly.
func (s *AnimationQueueService) Enqueue(t models.AnimationType, data models.AnimationData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.queueing {
		anim := s.build(t, data)
		s.current = &anim
		s.notifyLocked()
		return
	}

	if t == models.AnimationXP {
		s.xpAmount += data.Amount
		n := data.Count
		if n == 0 {
			n = 1
		}
		s.xpCount += n
		if s.xpState == xpBuffering {
			s.xpTimer.Stop()
		}
		s.xpState = xpBuffering
		s.xpGen++
		gen := s.xpGen
		s.xpTimer = s.clock.AfterFunc(s.debounce, func() { s.onDebounceElapsed(gen) })
		s.notifyLocked()
		return
	}

	s.insertLocked(s.build(t, data))
	s.maybeShowLocked()
	s.notifyLocked()
}

func (s *AnimationQueueService) build(t models.AnimationType, data models.AnimationData) models.QueuedAnimation {
	return models.QueuedAnimation{
		ID:        uuid.NewString(),
		Type:      t,
		Data:      data,
		Timestamp: s.clock.Now(),
		Priority:  t.Priority(),
	}
}

// insertLocked keeps the queue sorted by priority, FIFO within a priority.
func (s *AnimationQueueService) insertLocked(anim models.QueuedAnimation) {
	idx := len(s.queue)
	for idx > 0 && s.queue[idx-1].Priority > anim.Priority {
		idx--
	}
	s.queue = append(s.queue, models.QueuedAnimation{})
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = anim
}

func (s *AnimationQueueService) onDebounceElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.xpGen {
		// a newer xp request restarted the window after this fire was queued
		return
	}
	s.flushXPLocked()
	s.notifyLocked()
}

// flushXPLocked resolves the debounce window now: the accumulated total
// becomes one queued xp popup.
func (s *AnimationQueueService) flushXPLocked() {
	if s.xpState == xpIdle {
		return
	}
	s.xpTimer.Stop()
	s.xpTimer = nil
	s.xpState = xpIdle
	s.xpGen++

	anim := s.build(models.AnimationXP, models.AnimationData{
		Amount: s.xpAmount,
		Count:  s.xpCount,
	})
	s.xpAmount = 0
	s.xpCount = 0

	s.insertLocked(anim)
	s.maybeShowLocked()
}

func (s *AnimationQueueService) maybeShowLocked() {
	if s.current == nil && !s.pausing {
		s.showNextLocked()
	}
}

// showNextLocked pops the highest-priority popup into "showing", or clears
// the showing state when the queue is empty.
func (s *AnimationQueueService) showNextLocked() {
	if len(s.queue) == 0 {
		s.current = nil
		return
	}
	anim := s.queue[0]
	s.queue = s.queue[1:]
	s.current = &anim
}

// Dismiss is the UI's acknowledgment that the current popup finished. After a
// short pause (so consecutive popups don't feel jarring) the next one shows.
// Dismissing with nothing showing is a no-op, never an error.
func (s *AnimationQueueService) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.current = nil

	if !s.queueing || s.pause == 0 {
		s.showNextLocked()
		s.notifyLocked()
		return
	}

	s.pausing = true
	s.dismissTimer = s.clock.AfterFunc(s.pause, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pausing = false
		s.dismissTimer = nil
		s.showNextLocked()
		s.notifyLocked()
	})
	s.notifyLocked()
}

// FlushXPBuffer forces the debounce window to resolve immediately, for when
// the UI needs a synchronous answer (e.g. before navigation).
func (s *AnimationQueueService) FlushXPBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushXPLocked()
	s.notifyLocked()
}

// ClearAll empties the queue and buffer and cancels all pending timers — an
// escape hatch for recovering from a stuck UI, not used in normal operation.
// An already-in-flight network transmission is unaffected; this component
// never owned one.
func (s *AnimationQueueService) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.xpTimer != nil {
		s.xpTimer.Stop()
		s.xpTimer = nil
	}
	if s.dismissTimer != nil {
		s.dismissTimer.Stop()
		s.dismissTimer = nil
	}
	s.xpState = xpIdle
	s.xpAmount = 0
	s.xpCount = 0
	s.queue = nil
	s.current = nil
	s.pausing = false
	s.notifyLocked()
}

// State returns a snapshot of the queue for the UI.
func (s *AnimationQueueService) State() models.AnimationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *AnimationQueueService) stateLocked() models.AnimationState {
	st := models.AnimationState{
		QueueLength: len(s.queue),
		BufferedXP:  s.xpCount,
	}
	if s.current != nil {
		cur := *s.current
		st.Current = &cur
	}
	return st
}

// Subscribe registers a UI listener for queue/current-popup changes. Slow
// listeners never block the queue; missed snapshots are superseded by later
// ones anyway.
func (s *AnimationQueueService) Subscribe() <-chan models.AnimationState {
	ch := make(chan models.AnimationState, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Subscribe.
func (s *AnimationQueueService) Unsubscribe(ch <-chan models.AnimationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *AnimationQueueService) notifyLocked() {
	st := s.stateLocked()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
