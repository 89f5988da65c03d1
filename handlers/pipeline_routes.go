// handlers/pipeline_routes.go
package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"reward-sync-system/middleware"
	"reward-sync-system/models"
	"reward-sync-system/services"
	"reward-sync-system/workers"
)

// SetupPipelineRoutes exposes the pipeline to the embedding game/UI code.
func SetupPipelineRoutes(
	app *fiber.App,
	pipeline *services.PipelineService,
	streaks *services.StreakService,
	animations *services.AnimationQueueService,
	flush *workers.FlushWorker,
	outbox *services.OutboxService,
) {
	// only the routes acting on behalf of a student carry the student-context
	// middleware; the UI control surface below stays open to the embedding UI
	student := middleware.StudentContextMiddleware()

	// reportEvent — fire-and-forget from the caller's point of view; the
	// response only confirms local acceptance, never server delivery.
	app.Post("/events", student, func(c *fiber.Ctx) error {
		studentID := c.Locals("student_id").(string)

		type Req struct {
			Kind    models.EventKind    `json:"kind"`
			Payload models.EventPayload `json:"payload"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}

		ev, err := pipeline.ReportEvent(req.Kind, req.Payload, studentID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "event rejected",
				"cause": err.Error(),
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"event_id": ev.ID,
			"kind":     ev.Kind,
		})
	})

	app.Post("/streak/check", student, func(c *fiber.Ctx) error {
		studentID := c.Locals("student_id").(string)
		rec, err := streaks.CheckAndUpdate(studentID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "streak update failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(rec)
	})

	// zero-latency cached read; the authoritative value is fetched in the
	// background and silently corrects the cache if it differs
	app.Get("/streak", student, func(c *fiber.Ctx) error {
		studentID := c.Locals("student_id").(string)
		rec, err := streaks.Current(studentID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to read streak",
				"cause": err.Error(),
			})
		}
		streaks.ReconcileAsync(studentID)
		return c.JSON(rec)
	})

	// subscribeAnimationState — SSE stream of queue/current-popup snapshots
	app.Get("/animations/stream", func(c *fiber.Ctx) error {
		return streamAnimationState(c, animations)
	})

	app.Post("/animations/dismiss", func(c *fiber.Ctx) error {
		animations.Dismiss()
		return c.JSON(animations.State())
	})

	app.Post("/animations/flush", func(c *fiber.Ctx) error {
		animations.FlushXPBuffer()
		return c.JSON(animations.State())
	})

	app.Post("/animations/reset", func(c *fiber.Ctx) error {
		animations.ClearAll()
		return c.JSON(animations.State())
	})

	// visibility-change analogue: the UI tells us it's about to go away
	app.Post("/sync/flush", func(c *fiber.Ctx) error {
		flush.KickNow()
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Get("/sync/status", func(c *fiber.Ctx) error {
		counts, err := outbox.Counts()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to count events",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"pending":     counts[models.SyncStatePending],
			"in_flight":   counts[models.SyncStateInFlight],
			"failed":      counts[models.SyncStateFailed],
			"synced":      counts[models.SyncStateSynced],
			"quarantined": counts[models.SyncStateQuarantined],
			"degraded":    outbox.Degraded(),
		})
	})
}

// streamAnimationState pushes AnimationState snapshots over SSE whenever the
// queue changes, with a periodic keepalive comment.
func streamAnimationState(c *fiber.Ctx, animations *services.AnimationQueueService) error {
	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	sub := animations.Subscribe()
	ctx := c.Context()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer animations.Unsubscribe(sub)

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		// initial snapshot so the UI doesn't wait for the first change
		if err := writeStateEvent(w, animations.State()); err != nil {
			return
		}

		for {
			select {
			case st, ok := <-sub:
				if !ok {
					return
				}
				if err := writeStateEvent(w, st); err != nil {
					// client disconnected
					return
				}
			case <-keepalive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func writeStateEvent(w *bufio.Writer, st models.AnimationState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		log.Printf("SSE marshal error: %v", err)
		return err
	}
	fmt.Fprintf(w, "event: animation_state\ndata: %s\n\n", payload)
	return w.Flush()
}
