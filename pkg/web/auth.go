package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/studio233/flowcore/pkg/persistence"
)

// Identity headers set by the edge proxy after session validation.
const (
	HeaderUserID    = "X-User-Id"
	HeaderProjectID = "X-Project-Id"
)

const ownerLocalsKey = "flowcore.owner"

// RequireOwner rejects requests that carry no resolved user identity.
// Project scoping is taken from the project header and falls back to
// the "default" project.
func RequireOwner() fiber.Handler {
	return func(c fiber.Ctx) error {
		userID := c.Get(HeaderUserID)
		if userID == "" {
			return unauthorized(c, "missing user identity")
		}

		projectID := c.Get(HeaderProjectID)
		if projectID == "" {
			projectID = "default"
		}

		c.Locals(ownerLocalsKey, persistence.Owner{
			UserID:    userID,
			ProjectID: projectID,
		})

		return c.Next()
	}
}

// ownerFromCtx returns the identity resolved by RequireOwner.
func ownerFromCtx(c fiber.Ctx) persistence.Owner {
	owner, _ := c.Locals(ownerLocalsKey).(persistence.Owner)

	return owner
}
