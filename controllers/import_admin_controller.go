package controllers

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"

	"speedrun-backend/logging"
	"speedrun-backend/reconcile"
	"speedrun-backend/validation"
)

// Reconciler is the engine surface the admin API drives.
type Reconciler interface {
	ImportExternalRuns(ctx context.Context, progress reconcile.ProgressFunc) (*reconcile.ImportResult, error)
	Autoclaim(ctx context.Context, playerID, externalUsername string) (int, error)
	AutoclaimAll(ctx context.Context) reconcile.AutoclaimSummary
	DeleteAllImported(ctx context.Context, progress reconcile.DeleteProgressFunc) reconcile.DeleteImportedResult
	DeleteAllUnclaimed(ctx context.Context, progress reconcile.DeleteProgressFunc) reconcile.DeleteUnclaimedResult
}

type ReportNotifier interface {
	SendImportReport(result *reconcile.ImportResult) error
}

type AutoclaimRequest struct {
	PlayerID         string `json:"playerId" validate:"required,notblank"`
	ExternalUsername string `json:"externalUsername" validate:"required,notblank"`
}

type ImportAdminController struct {
	engine   Reconciler
	notifier ReportNotifier
	// running guards against two imports from this process at once.
	running sync.Mutex
}

// NewImportAdminController wires the handlers. notifier may be nil.
func NewImportAdminController(engine Reconciler, notifier ReportNotifier) *ImportAdminController {
	return &ImportAdminController{engine: engine, notifier: notifier}
}

func (ctl *ImportAdminController) ImportRuns(c *fiber.Ctx) error {
	if !ctl.running.TryLock() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "An import is already running"})
	}
	defer ctl.running.Unlock()

	ctx := logging.ContextWithCorrelationID(c.UserContext(), logging.NewCorrelationID())
	result, err := ctl.engine.ImportExternalRuns(ctx, nil)
	if err != nil {
		return c.Status(statusForEngineError(err)).JSON(fiber.Map{"error": err.Error(), "result": result})
	}

	if ctl.notifier != nil {
		if err := ctl.notifier.SendImportReport(result); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to email import report")
		}
	}

	return c.JSON(result)
}

func (ctl *ImportAdminController) Autoclaim(c *fiber.Ctx) error {
	var req AutoclaimRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
	}
	if err := validation.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	n, err := ctl.engine.Autoclaim(c.UserContext(), req.PlayerID, req.ExternalUsername)
	if err != nil {
		return c.Status(statusForEngineError(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"claimed": n})
}

func (ctl *ImportAdminController) AutoclaimAll(c *fiber.Ctx) error {
	return c.JSON(ctl.engine.AutoclaimAll(c.UserContext()))
}

func (ctl *ImportAdminController) DeleteImported(c *fiber.Ctx) error {
	res := ctl.engine.DeleteAllImported(c.UserContext(), nil)
	if len(res.Errors) > 0 && res.Deleted == 0 {
		return c.Status(fiber.StatusInternalServerError).JSON(res)
	}
	return c.JSON(res)
}

func (ctl *ImportAdminController) DeleteUnclaimed(c *fiber.Ctx) error {
	res := ctl.engine.DeleteAllUnclaimed(c.UserContext(), nil)
	if !res.Success {
		return c.Status(fiber.StatusInternalServerError).JSON(res)
	}
	return c.JSON(res)
}

func statusForEngineError(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrConfig):
		return fiber.StatusBadRequest
	case errors.Is(err, reconcile.ErrExternalService):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
