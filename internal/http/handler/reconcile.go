package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/docerr"
	"docvault/internal/reconcile"
	"docvault/internal/repository"
	"docvault/internal/service"
)

type applyRepairRequest struct {
	Actions []reconcile.Action `json:"actions"`
}

type applyRepairResponse struct {
	Results []service.RepairOutcome `json:"results"`
}

// planConflictPayload is returned when a plan contains ambiguous keys.
type planConflictPayload struct {
	errorPayload
	Plan *reconcile.Plan `json:"plan"`
}

// ReconcilePlan godoc
// @Summary Compute a repair plan
// @Description Compares records and stored objects inside the scope. Nothing is changed. An empty body scans every bucket.
// @Tags reconcile
// @Accept json
// @Produce json
// @Param request body repository.Scope false "Scope"
// @Success 200 {object} reconcile.Plan
// @Failure 400 {object} errorPayload
// @Failure 409 {object} planConflictPayload
// @Failure 503 {object} errorPayload
// @Router /reconcile [post]
func ReconcilePlan(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var scope repository.Scope
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&scope); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
			}
		}

		plan, err := docSvc.Reconcile(c.UserContext(), scope)
		if err != nil {
			if plan != nil && errors.Is(err, docerr.ErrConsistencyViolation) {
				status, env := classify(err)
				return c.Status(status).JSON(planConflictPayload{
					errorPayload: errorPayload{RequestID: requestIDFromCtx(c), Error: env},
					Plan:         plan,
				})
			}
			return writeServiceError(c, err)
		}
		return c.JSON(plan)
	}
}

// ApplyRepair godoc
// @Summary Apply repair actions
// @Description Each action re-checks its preconditions; actions whose state changed since planning report stale.
// @Tags reconcile
// @Accept json
// @Produce json
// @Param X-Actor header string true "Acting user"
// @Param request body applyRepairRequest true "Actions from a plan"
// @Success 200 {object} applyRepairResponse
// @Failure 400 {object} errorPayload
// @Router /reconcile/apply [post]
func ApplyRepair(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, ok := actor(c)
		if !ok {
			return writeActorRequired(c)
		}
		var req applyRepairRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if len(req.Actions) == 0 {
			return writeError(c, fiber.StatusBadRequest, "ACTIONS_REQUIRED", "at least one action is required")
		}

		results, err := docSvc.ApplyRepair(c.UserContext(), req.Actions, who)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(applyRepairResponse{Results: results})
	}
}
