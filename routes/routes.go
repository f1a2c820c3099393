package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"coursedrip/catalog"
	controller "coursedrip/controllers"
	"coursedrip/middleware"
	"coursedrip/store"
)

func SetupRoutes(app *fiber.App, st *store.SubscriberStore, cat *catalog.Catalog, appLogger *logrus.Logger) {
	enrollment := controller.NewEnrollmentController(st, cat, appLogger)
	delivery := controller.NewDeliveryController(st, appLogger)

	api := app.Group("", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	subscribers := api.Group("/subscribers")
	subscribers.Post("/", middleware.EnrollmentRateLimiter(), enrollment.Enroll)
	subscribers.Get("/:id", enrollment.GetSubscriber)
	subscribers.Post("/:id/pause", enrollment.Pause)
	subscribers.Post("/:id/resume", enrollment.Resume)
	subscribers.Post("/:id/unenroll", enrollment.Unenroll)
	subscribers.Get("/:id/deliveries", delivery.ListDeliveries)

	api.Get("/deliveries/failed", delivery.ListFailed)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/deliveries", websocket.New(controller.HandleDeliveryStreamWS(st)))

	appLogger.Info("Routes initialized successfully")
}
