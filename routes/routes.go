package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "salesreach/controllers"
	"salesreach/middleware"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, log *logrus.Logger) {
	// Initialize Stripe
	controller.InitStripe()

	sequenceController := controller.NewSequenceController(db, log)
	enrollmentController := controller.NewEnrollmentController(db, log)
	prospectController := controller.NewProspectController(db, log)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhooks carry their own authentication (signature or shared
	// secret), not a user JWT.
	app.Post("/webhooks/email-events", sequenceController.HandleSequenceWebhook)
	app.Post("/webhooks/stripe", controller.HandlePaymentWebhook)

	// WebSocket route for live sequence progress. Registered before the API
	// group so the sequences/:id route cannot capture the path.
	app.Get("/api/v1/sequences/progress", websocket.New(controller.HandleSequenceProgressWS(db, log)))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Post("/:id/activate", sequenceController.ActivateSequence)
	sequence.Post("/:id/pause", sequenceController.PauseSequence)
	sequence.Post("/:id/resume", sequenceController.ResumeSequence)
	sequence.Post("/:id/archive", sequenceController.ArchiveSequence)
	sequence.Get("/:id/stats", sequenceController.GetSequenceStats)

	// Enrollment routes; batch enroll is rate limited per user and sequence
	sequence.Post("/:id/enroll", middleware.EnrollRateLimiter(), enrollmentController.EnrollProspects)
	sequence.Get("/:id/enrollments", enrollmentController.GetEnrollments)

	enrollment := api.Group("/enrollments")
	enrollment.Post("/:id/pause", enrollmentController.PauseEnrollment)
	enrollment.Post("/:id/resume", enrollmentController.ResumeEnrollment)

	// Prospect routes
	prospect := api.Group("/prospects")
	prospect.Post("/", prospectController.CreateProspect)
	prospect.Get("/", prospectController.GetProspects)
	prospect.Get("/:id", prospectController.GetProspect)
	prospect.Put("/:id", prospectController.UpdateProspect)
	prospect.Delete("/:id", prospectController.DeleteProspect)

	// Payment routes
	payment := api.Group("/payment")
	payment.Post("/create-intent", controller.CreatePaymentIntent)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
