package services

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/rollbar/rollbar-go"
)

// ErrorKind classifies a pipeline failure
type ErrorKind string

const (
	ErrorKindTransientNetwork ErrorKind = "transient_network"
	ErrorKindServerRejection  ErrorKind = "server_rejection"
	ErrorKindStorageDegraded  ErrorKind = "storage_degraded"
	ErrorKindReconcileFailed  ErrorKind = "reconcile_failed"
	ErrorKindQuarantine       ErrorKind = "quarantine"
)

// PipelineError is one entry on the error side channel. Sync-path failures
// are never surfaced synchronously to the event source; they land here.
type PipelineError struct {
	Kind       ErrorKind `json:"kind"`
	StudentID  string    `json:"student_id,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PipelineReporter is the structured error stream. Callers may subscribe; a
// slow subscriber never blocks the pipeline (latest entries win). When
// ROLLBAR_TOKEN is set, entries are also forwarded to Rollbar.
type PipelineReporter struct {
	mu      sync.Mutex
	subs    []chan PipelineError
	rollbar bool
}

func NewPipelineReporter() *PipelineReporter {
	r := &PipelineReporter{}
	if token := os.Getenv("ROLLBAR_TOKEN"); token != "" {
		rollbar.SetToken(token)
		rollbar.SetEnvironment(os.Getenv("APP_ENV"))
		r.rollbar = true
		log.Println("✅ Rollbar error forwarding enabled")
	}
	return r
}

// Report publishes an error to every subscriber and the log.
func (r *PipelineReporter) Report(e PipelineError) {
	log.Printf("[REPORT] ❌ %s: %s (student=%s event=%s)", e.Kind, e.Message, e.StudentID, e.EventID)

	r.mu.Lock()
	subs := make([]chan PipelineError, len(r.subs))
	copy(subs, r.subs)
	enabled := r.rollbar
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default: // subscriber is behind, drop rather than block the pipeline
		}
	}

	if enabled {
		rollbar.Error(e.Message, map[string]interface{}{
			"kind":       string(e.Kind),
			"student_id": e.StudentID,
			"event_id":   e.EventID,
		})
	}
}

// Subscribe returns a channel of future pipeline errors.
func (r *PipelineReporter) Subscribe() <-chan PipelineError {
	ch := make(chan PipelineError, 64)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Subscribe.
func (r *PipelineReporter) Unsubscribe(ch <-chan PipelineError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub == ch {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}
