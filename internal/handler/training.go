package handler

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/modeltrainer/api/internal/apperrors"
	"github.com/modeltrainer/api/internal/model"
	"github.com/modeltrainer/api/internal/service"
	"github.com/modeltrainer/api/pkg/response"
)

type TrainingHandler struct {
	service   *service.TrainingService
	validator *validator.Validate
}

func NewTrainingHandler(svc *service.TrainingService, v *validator.Validate) *TrainingHandler {
	return &TrainingHandler{
		service:   svc,
		validator: v,
	}
}

// Train handles POST /train
func (h *TrainingHandler) Train(c *fiber.Ctx) error {
	var req model.TrainRequest
	if issues := decodeStrict(c.Body(), &req); issues != nil {
		return response.ValidationError(c, issues)
	}
	req.Normalize()

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, formatValidationErrors(err))
	}

	taskID, err := h.service.Submit(c.UserContext(), req.Spec())
	if err != nil {
		return fail(c, err)
	}

	return response.OK(c, model.SubmitResponse{TaskID: taskID})
}

// Status handles GET /training-status/:task_id
func (h *TrainingHandler) Status(c *fiber.Ctx) error {
	taskID := c.Params("task_id")

	job, err := h.service.Status(c.UserContext(), taskID)
	if err != nil {
		return fail(c, err)
	}

	return response.OK(c, model.StatusFromJob(job))
}

// Cancel handles POST /cancel
func (h *TrainingHandler) Cancel(c *fiber.Ctx) error {
	var req model.CancelRequest
	if issues := decodeStrict(c.Body(), &req); issues != nil {
		return response.ValidationError(c, issues)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, formatValidationErrors(err))
	}

	if err := h.service.Revoke(c.UserContext(), req.TaskID); err != nil {
		return fail(c, err)
	}

	return response.OK(c, model.CancelResponse{Status: "Task cancelled"})
}

// fail maps a classified service error onto a response
func fail(c *fiber.Ctx, err error) error {
	switch apperrors.HTTPStatus(err) {
	case fiber.StatusNotFound:
		return response.NotFound(c, err.Error())
	case fiber.StatusConflict:
		return response.Conflict(c, err.Error())
	case fiber.StatusUnprocessableEntity:
		return response.ValidationError(c, []response.ValidationIssue{issue(nil, err.Error(), response.TypeValueError)})
	default:
		log.Printf("%s %s failed: %v", c.Method(), c.Path(), err)
		return response.ServiceError(c, err.Error())
	}
}
