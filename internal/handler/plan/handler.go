package plan

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/kine-api/internal/handler"
	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/service/plan"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/validator"
)

type Handler struct {
	service   *plan.Service
	validator validator.Validator
}

func NewHandler(service *plan.Service, v validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, staffOnly gin.HandlerFunc) {
	plans := r.Group("/plans")
	{
		plans.POST("/prescriptions", staffOnly, h.Prescribe)
		plans.GET("/:id", h.GetPlan)
		plans.PATCH("/:id", staffOnly, h.UpdatePlan)
		plans.POST("/:id/complete", staffOnly, h.CompletePlan)
	}

	patients := r.Group("/patients/:id")
	{
		patients.GET("/plans", h.ListPatientPlans)
		patients.GET("/exercises/today", h.TodaysExercises)
		patients.PUT("/exercises/:exerciseId/log", h.LogExercise)
	}
}

func (h *Handler) Prescribe(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	var req model.PrescribeExercisesRequest
	if err := handler.Bind(c, h.validator, &req); err != nil {
		handler.RespondError(c, err)
		return
	}

	p, err := h.service.Prescribe(c.Request.Context(), caller, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondCreated(c, p)
}

func (h *Handler) GetPlan(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	p, err := h.service.GetPlan(c.Request.Context(), caller, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, p)
}

func (h *Handler) UpdatePlan(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	var req model.UpdatePlanRequest
	if err := handler.Bind(c, h.validator, &req); err != nil {
		handler.RespondError(c, err)
		return
	}

	p, err := h.service.UpdatePlan(c.Request.Context(), caller, id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, p)
}

func (h *Handler) CompletePlan(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.service.CompletePlan(ctx, caller, id); err != nil {
		handler.RespondError(c, err)
		return
	}
	p, err := h.service.GetPlan(ctx, caller, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, p)
}

func (h *Handler) ListPatientPlans(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	patientID, err := handler.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	var status *model.PlanStatus
	switch raw := model.PlanStatus(c.Query("status")); raw {
	case "":
	case model.PlanStatusActive, model.PlanStatusCompleted:
		status = &raw
	default:
		handler.RespondError(c, apperrors.Validation("status must be active or completed"))
		return
	}

	plans, err := h.service.ListPlansForPatient(c.Request.Context(), caller, patientID, status)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, plans)
}

func (h *Handler) TodaysExercises(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	patientID, err := handler.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	exercises, err := h.service.TodaysExercises(c.Request.Context(), caller, patientID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, exercises)
}

func (h *Handler) LogExercise(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	patientID, err := handler.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	exerciseID, err := handler.UUIDParam(c, "exerciseId")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	var req model.ToggleExerciseRequest
	if err := handler.Bind(c, h.validator, &req); err != nil {
		handler.RespondError(c, err)
		return
	}

	entry, err := h.service.ToggleExerciseCompletion(c.Request.Context(), caller, patientID, exerciseID, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, entry)
}
