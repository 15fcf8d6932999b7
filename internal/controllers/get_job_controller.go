package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/flagq/internal/repository"
	"github.com/osvaldoandrade/flagq/internal/services"

	"github.com/gin-gonic/gin"
)

type getJobController struct{ svc services.JobService }

func NewGetJobController(svc services.JobService) *getJobController {
	return &getJobController{svc}
}

func (h *getJobController) Handle(c *gin.Context) {
	task, err := h.svc.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}
