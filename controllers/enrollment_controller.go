package controller

import (
	"errors"
	"time"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coursedrip/catalog"
	"coursedrip/config"
	"coursedrip/models"
	"coursedrip/store"
)

// EnrollmentController is the surrounding application's enrollment surface.
// The scheduler itself never initiates enrollment; it only reacts to the
// status these handlers set.
type EnrollmentController struct {
	Store    *store.SubscriberStore
	Catalog  *catalog.Catalog
	Logger   *logrus.Logger
	validate *validator.Validate
}

func NewEnrollmentController(st *store.SubscriberStore, cat *catalog.Catalog, logger *logrus.Logger) *EnrollmentController {
	return &EnrollmentController{
		Store:    st,
		Catalog:  cat,
		Logger:   logger,
		validate: validator.New(),
	}
}

type enrollRequest struct {
	Email      string            `json:"email" validate:"required"`
	SequenceID string            `json:"sequence_id" validate:"required"`
	Tokens     map[string]string `json:"tokens"`
}

// Enroll creates a subscriber and anchors their enrollment timestamp.
func (ec *EnrollmentController) Enroll(c *fiber.Ctx) error {
	var req enrollRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := ec.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := checkmail.ValidateFormat(req.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}
	if _, err := ec.Catalog.Get(req.SequenceID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown sequence",
		})
	}

	sub := models.Subscriber{
		ID:         uuid.NewString(),
		Email:      req.Email,
		SequenceID: req.SequenceID,
		EnrolledAt: time.Now().UTC(),
		Status:     models.SubscriberActive,
		Tokens:     req.Tokens,
	}
	if err := ec.Store.Enroll(c.Context(), &sub); err != nil {
		ec.Logger.WithError(err).Error("enrollment failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enroll subscriber",
		})
	}

	ec.Logger.WithFields(logrus.Fields{
		"subscriber": sub.ID,
		"sequence":   sub.SequenceID,
	}).Info("subscriber enrolled")
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// Pause freezes new primary sends; elapsed time keeps accruing unless the
// pause-freezes-clock policy is enabled.
func (ec *EnrollmentController) Pause(c *fiber.Ctx) error {
	return ec.transition(c, func(id string) error {
		return ec.Store.Pause(c.Context(), id)
	}, "Subscriber paused")
}

// Resume reactivates a paused subscriber.
func (ec *EnrollmentController) Resume(c *fiber.Ctx) error {
	return ec.transition(c, func(id string) error {
		return ec.Store.Resume(c.Context(), id, config.AppConfig.PauseFreezesClock)
	}, "Subscriber resumed")
}

// Unenroll terminates the subscription; pending secondary posts are
// cancelled by the scheduler on its next pass.
func (ec *EnrollmentController) Unenroll(c *fiber.Ctx) error {
	return ec.transition(c, func(id string) error {
		return ec.Store.Unenroll(c.Context(), id)
	}, "Subscriber unenrolled")
}

func (ec *EnrollmentController) transition(c *fiber.Ctx, fn func(id string) error, message string) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid subscriber id",
		})
	}

	switch err := fn(id); {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Subscriber not found",
		})
	case errors.Is(err, store.ErrBadTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Subscriber is not in a state that allows this transition",
		})
	case err != nil:
		ec.Logger.WithError(err).WithField("subscriber", id).Error("status transition failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update subscriber",
		})
	}

	return c.JSON(fiber.Map{"message": message})
}

// GetSubscriber returns one subscriber with their current state.
func (ec *EnrollmentController) GetSubscriber(c *fiber.Ctx) error {
	sub, err := ec.Store.Get(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Subscriber not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load subscriber",
		})
	}
	return c.JSON(sub)
}
