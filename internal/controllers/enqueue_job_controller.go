package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/flagq/internal/services"
	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/gin-gonic/gin"
)

// maxJobBytes bounds a job envelope; flags and adjuncts are small.
const maxJobBytes = 1 << 20

type enqueueJobController struct {
	svc services.JobService
	cmd domain.Command
}

func NewEnqueueJobController(svc services.JobService, cmd domain.Command) *enqueueJobController {
	return &enqueueJobController{svc: svc, cmd: cmd}
}

func (h *enqueueJobController) Handle(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJobBytes)
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	payload, err := compactJSON(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	task, err := h.svc.Enqueue(c.Request.Context(), h.cmd, payload, c.GetHeader("Idempotency-Key"))
	if err != nil {
		var de *domain.DecodeError
		if errors.As(err, &de) || errors.Is(err, services.ErrInvalidCommand) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, task)
}
