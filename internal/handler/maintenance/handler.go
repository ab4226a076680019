package maintenance

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/kine-api/internal/handler"
	"github.com/jwalitptl/kine-api/internal/service/maintenance"
)

type Handler struct {
	service *maintenance.Service
}

func NewHandler(service *maintenance.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, staffOnly gin.HandlerFunc) {
	r.POST("/maintenance/sweep", staffOnly, h.Sweep)
}

// Sweep runs the past-appointment sweep now, optionally for one practitioner.
func (h *Handler) Sweep(c *gin.Context) {
	practitionerID, err := handler.OptionalUUIDQuery(c, "practitioner_id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	result, err := h.service.Run(c.Request.Context(), practitionerID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, result)
}
