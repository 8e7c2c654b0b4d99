package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/openimaging/upsd"
	"github.com/openimaging/upsd/pkg/api"
)

func (s *Server) handleHealth(c *gin.Context) {
	registry := s.service.Registry()
	c.JSON(http.StatusOK, api.HealthResponse{
		Service:       app.Name,
		Version:       app.Version,
		Status:        "healthy",
		Subscriptions: len(registry.Subscriptions()),
		Published:     s.service.Published(),
		Dropped:       registry.Dropped(),
	})
}
