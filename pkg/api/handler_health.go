package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/surveyease/surveyease/pkg/database"
	"github.com/surveyease/surveyease/pkg/version"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	response := map[string]any{
		"status":  "healthy",
		"service": version.AppName,
		"version": version.Full(),
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	healthy := true

	if s.db != nil {
		dbHealth, err := database.Health(ctx, s.db)
		response["database"] = dbHealth
		if err != nil {
			healthy = false
		}
	}

	if s.checkpoints != nil {
		if err := s.checkpoints.Ping(ctx); err != nil {
			response["checkpoint_store"] = "unhealthy"
			healthy = false
		} else {
			response["checkpoint_store"] = "healthy"
		}
	}

	if !healthy {
		response["status"] = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, response)
	}
	return c.JSON(http.StatusOK, response)
}
