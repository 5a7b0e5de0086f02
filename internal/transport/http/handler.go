package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/possuite/possync/internal/hub"
	"github.com/possuite/possync/internal/model"
)

func RegisterHandlers(r *gin.Engine, svc *hub.Service) {
	sync := r.Group("/sync")
	{
		sync.POST("/push", pushHandler(svc))
		sync.GET("/pull", pullHandler(svc))
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
}

func pushHandler(svc *hub.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var batch model.SyncBatch
		if err := c.ShouldBindJSON(&batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if batch.TerminalID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id required"})
			return
		}
		ack, err := svc.Push(c, batch)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ack)
	}
}

func pullHandler(svc *hub.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		terminalID := c.Query("terminal_id")
		if terminalID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id required"})
			return
		}
		since, err := strconv.ParseUint(c.DefaultQuery("since_token", "0"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since_token"})
			return
		}
		res, err := svc.Pull(c, terminalID, since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
