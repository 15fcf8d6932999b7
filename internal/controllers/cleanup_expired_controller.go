package controllers

import (
	"net/http"
	"time"

	"github.com/osvaldoandrade/flagq/internal/services"

	"github.com/gin-gonic/gin"
)

type cleanupExpiredController struct{ svc services.JobService }

func NewCleanupExpiredController(svc services.JobService) *cleanupExpiredController {
	return &cleanupExpiredController{svc}
}

type cleanupReq struct {
	Limit  int    `json:"limit,omitempty"`  // default: 1000
	Before string `json:"before,omitempty"` // RFC3339; default: now
}

func (h *cleanupExpiredController) Handle(c *gin.Context) {
	var req cleanupReq
	_ = c.ShouldBindJSON(&req) // both fields optional

	var before time.Time
	if req.Before != "" {
		t, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' (use RFC3339)"})
			return
		}
		before = t
	}

	deleted, err := h.svc.CleanupExpired(c.Request.Context(), req.Limit, before)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "limit": req.Limit})
}
