package main

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speedrun-backend/bootstrap"
	"speedrun-backend/config"
	"speedrun-backend/controllers"
	"speedrun-backend/database"
	"speedrun-backend/logging"
	"speedrun-backend/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}
	bootstrap.InitLogging(cfg)

	if err := database.ConnectDB(cfg.Database.URL); err != nil {
		logging.Fatal().Err(err).Msg("Database unavailable")
	}

	engine := bootstrap.Engine(cfg, database.DB)

	var notifier controllers.ReportNotifier
	if n := bootstrap.Notifier(cfg.Mail); n != nil {
		notifier = n
	}

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	routes.AdminRoutes(app, controllers.NewImportAdminController(engine, notifier), cfg.Auth.JWTSecret)

	port := strconv.Itoa(cfg.Server.Port)
	logging.Info().Str("port", port).Bool("report_mail", notifier != nil).Msg("Server running")
	if err := app.Listen(":" + port); err != nil {
		logging.Fatal().Err(err).Msg("Server stopped")
	}
}
