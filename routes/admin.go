package routes

import (
	"github.com/gofiber/fiber/v2"

	"speedrun-backend/controllers"
	"speedrun-backend/middleware"
)

func AdminRoutes(app *fiber.App, ctl *controllers.ImportAdminController, jwtSecret string) {
	admin := app.Group("/api/admin", middleware.RequireAdmin(jwtSecret))

	admin.Post("/imports/runs", ctl.ImportRuns)
	admin.Post("/autoclaim", ctl.Autoclaim)
	admin.Post("/autoclaim/all", ctl.AutoclaimAll)
	admin.Delete("/runs/imported", ctl.DeleteImported)
	admin.Delete("/runs/unclaimed", ctl.DeleteUnclaimed)
}
