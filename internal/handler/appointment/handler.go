package appointment

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/handler"
	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/service/appointment"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/validator"
)

type Handler struct {
	service   *appointment.Service
	validator validator.Validator
	loc       *time.Location
}

// NewHandler builds the appointment handler; loc resolves availability dates.
func NewHandler(service *appointment.Service, v validator.Validator, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{service: service, validator: v, loc: loc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, adminOnly gin.HandlerFunc) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", h.BookAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.GET("/availability", h.GetAvailability)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PATCH("/:id", h.RescheduleAppointment)
		appointments.POST("/:id/confirm", h.ConfirmAppointment)
		appointments.POST("/:id/complete", h.CompleteAppointment)
		appointments.POST("/:id/cancel", h.CancelAppointment)
		appointments.DELETE("/:id", adminOnly, h.DeleteAppointment)
	}

	r.GET("/patients/:id/appointments", h.ListPatientAppointments)
}

func (h *Handler) BookAppointment(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	var req model.BookAppointmentRequest
	if err := handler.Bind(c, h.validator, &req); err != nil {
		handler.RespondError(c, err)
		return
	}

	apt, err := h.service.Book(c.Request.Context(), caller, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondCreated(c, apt)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	apt, err := h.service.Get(c.Request.Context(), caller, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, apt)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	practitionerID, err := handler.OptionalUUIDQuery(c, "practitioner_id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if practitionerID == nil {
		handler.RespondError(c, apperrors.Validation("practitioner_id is required"))
		return
	}
	from, err := handler.OptionalTimeQuery(c, "from")
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	upcoming := false
	if raw := c.Query("upcoming"); raw != "" {
		upcoming, err = strconv.ParseBool(raw)
		if err != nil {
			handler.RespondError(c, apperrors.NewValidation("invalid upcoming", err))
			return
		}
	}

	appointments, err := h.service.List(c.Request.Context(), caller, *practitionerID, from, upcoming)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, appointments)
}

func (h *Handler) ListPatientAppointments(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	appointments, err := h.service.ListForPatient(c.Request.Context(), caller, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, appointments)
}

func (h *Handler) GetAvailability(c *gin.Context) {
	practitionerID, err := handler.OptionalUUIDQuery(c, "practitioner_id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if practitionerID == nil {
		handler.RespondError(c, apperrors.Validation("practitioner_id is required"))
		return
	}

	day, err := time.ParseInLocation(handler.DateLayout, c.Query("date"), h.loc)
	if err != nil {
		handler.RespondError(c, apperrors.NewValidation("invalid date format, expected YYYY-MM-DD", err))
		return
	}

	duration := 0
	if raw := c.Query("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration <= 0 {
			handler.RespondError(c, apperrors.Validation("duration must be a positive number of minutes"))
			return
		}
	}

	slots, err := h.service.AvailableSlots(c.Request.Context(), *practitionerID, day, duration)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, slots)
}

func (h *Handler) RescheduleAppointment(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	var req model.RescheduleAppointmentRequest
	if err := handler.Bind(c, h.validator, &req); err != nil {
		handler.RespondError(c, err)
		return
	}

	apt, err := h.service.Reschedule(c.Request.Context(), caller, id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, apt)
}

func (h *Handler) ConfirmAppointment(c *gin.Context) {
	h.transition(c, h.service.Confirm)
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	h.transition(c, h.service.Complete)
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

func (h *Handler) DeleteAppointment(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), caller, id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type transitionFunc func(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error)

func (h *Handler) transition(c *gin.Context, fn transitionFunc) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	apt, err := fn(c.Request.Context(), caller, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, apt)
}

func (h *Handler) callerAndID(c *gin.Context) (model.Caller, uuid.UUID, bool) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.RespondError(c, err)
		return model.Caller{}, uuid.Nil, false
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return model.Caller{}, uuid.Nil, false
	}
	return caller, id, true
}
