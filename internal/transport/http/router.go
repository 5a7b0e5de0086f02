package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/possuite/possync/internal/config"
	"github.com/possuite/possync/internal/hub"
)

func NewRouter(svc *hub.Service, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc)
	return r
}
