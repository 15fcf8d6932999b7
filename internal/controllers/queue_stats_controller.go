package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/flagq/internal/services"
	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type queueStatsController struct{ svc services.JobService }

func NewQueueStatsController(svc services.JobService) *queueStatsController {
	return &queueStatsController{svc: svc}
}

// Handle accepts the command in either case: /queues/push or /queues/PUSH.
func (h *queueStatsController) Handle(c *gin.Context) {
	cmd, err := domain.ParseCommand(c.Param("command"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.svc.QueueStats(c.Request.Context(), cmd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}
