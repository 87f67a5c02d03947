package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/surveyease/surveyease/pkg/models"
	"github.com/surveyease/surveyease/pkg/template"
)

// listHostsHandler handles GET /api/host/hosts.
func (s *Server) listHostsHandler(c *echo.Context) error {
	hosts, err := s.hosts.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, hosts)
}

// getHostHandler handles GET /api/host/hosts/:id.
func (s *Server) getHostHandler(c *echo.Context) error {
	host, err := s.hosts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, host)
}

// createHostHandler handles POST /api/host/hosts.
func (s *Server) createHostHandler(c *echo.Context) error {
	var host models.Host
	if err := c.Bind(&host); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if host.ID == "" {
		host.ID = uuid.NewString()
	}
	if err := template.ValidateHost(&host); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.hosts.Create(c.Request().Context(), &host); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, host)
}

// updateHostHandler handles PUT /api/host/hosts/:id.
func (s *Server) updateHostHandler(c *echo.Context) error {
	var host models.Host
	if err := c.Bind(&host); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	host.ID = c.Param("id")
	if err := template.ValidateHost(&host); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.hosts.Update(c.Request().Context(), &host); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, host)
}

// deleteHostHandler handles DELETE /api/host/hosts/:id.
func (s *Server) deleteHostHandler(c *echo.Context) error {
	if err := s.hosts.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
