package handler

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docvault/internal/model"
	"docvault/internal/service"
)

// ActorHeader carries the identity resolved by the external auth layer.
const ActorHeader = "X-Actor"

// Check is an extra readiness dependency, such as the object store.
type Check func(ctx context.Context) error

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, docSvc service.DocumentService, checks ...Check) {
	app.Get("/health", HealthCheck(db, checks...))
	app.Get("/healthz", LivenessProbe())

	const lineage = "/entities/:entityType/:entityId/documents/:slot"
	app.Post(lineage, UploadDocument(docSvc))
	app.Get(lineage+"/versions", ListVersions(docSvc))
	app.Get(lineage+"/active", GetActiveVersion(docSvc))

	app.Get("/documents/:id", GetDocument(docSvc))
	app.Get("/documents/:id/content", DownloadDocument(docSvc))
	app.Get("/documents/:id/url", DocumentURL(docSvc))
	app.Get("/documents/:id/history", DocumentHistory(docSvc))
	app.Post("/documents/:id/replace", ReplaceDocument(docSvc))
	app.Post("/documents/:id/state", MarkDocumentState(docSvc))
	app.Post("/documents/:id/restore", RestoreDocument(docSvc))
	app.Delete("/documents/:id", DeleteDocument(docSvc))
	app.Post("/documents/:id/hard-delete", HardDeleteDocument(docSvc))

	app.Post("/reconcile", ReconcilePlan(docSvc))
	app.Post("/reconcile/apply", ApplyRepair(docSvc))
}

// HealthCheck godoc
// @Summary Readiness probe
// @Description Checks database connectivity and every extra dependency check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db *sql.DB, checks ...Check) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db == nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe godoc
// @Summary Liveness probe
// @Tags health
// @Success 200
// @Router /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// actor returns the trimmed X-Actor header and whether it was set.
func actor(c *fiber.Ctx) (string, bool) {
	a := strings.TrimSpace(c.Get(ActorHeader))
	return a, a != ""
}

func writeActorRequired(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, "ACTOR_REQUIRED", ActorHeader+" header is required")
}

// lineageParam reads the lineage path parameters.
func lineageParam(c *fiber.Ctx) (model.Lineage, bool) {
	l := model.Lineage{
		EntityType: model.EntityType(c.Params("entityType")),
		EntityID:   c.Params("entityId"),
		Slot:       c.Params("slot"),
	}
	return l, l.Validate()
}

func writeInvalidLineage(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, "INVALID_LINEAGE", "entity type must be vivienda, proyecto or cliente and entity id and slot are required")
}

// idParam reads and validates the :id path parameter.
func idParam(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	_, err := uuid.Parse(id)
	return id, err == nil
}

func writeInvalidID(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
}
