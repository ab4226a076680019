package schedule

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/kine-api/internal/handler"
	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/service/schedule"
)

type Handler struct {
	policy *schedule.Policy
}

func NewHandler(policy *schedule.Policy) *Handler {
	return &Handler{policy: policy}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/schedule", h.GetSchedule)
}

type scheduleResponse struct {
	Timezone string           `json:"timezone"`
	Days     []model.DayHours `json:"days"`
}

func (h *Handler) GetSchedule(c *gin.Context) {
	handler.RespondOK(c, scheduleResponse{
		Timezone: h.policy.Location().String(),
		Days:     h.policy.Template(),
	})
}
