// middleware/student.go
package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// StudentContextMiddleware extracts the student identity set by the embedding
// UI and attaches it to the request context for handlers.
func StudentContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		studentID := c.Get("X-Student-ID")
		if studentID == "" {
			log.Printf("❌ [STUDENT_CTX] X-Student-ID missing on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Student-ID header",
			})
		}

		c.Locals("student_id", studentID)
		return c.Next()
	}
}
