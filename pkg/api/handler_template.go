package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/surveyease/surveyease/pkg/models"
	"github.com/surveyease/surveyease/pkg/template"
)

// listTemplatesHandler handles GET /api/template/templates.
func (s *Server) listTemplatesHandler(c *echo.Context) error {
	templates, err := s.templates.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, templates)
}

// getTemplateHandler handles GET /api/template/templates/:id.
func (s *Server) getTemplateHandler(c *echo.Context) error {
	tpl, err := s.templates.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tpl)
}

// createTemplateHandler handles POST /api/template/templates.
func (s *Server) createTemplateHandler(c *echo.Context) error {
	var tpl models.Template
	if err := c.Bind(&tpl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if err := template.ValidateTemplate(&tpl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.templates.Create(c.Request().Context(), &tpl); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

// updateTemplateHandler handles PUT /api/template/templates/:id.
func (s *Server) updateTemplateHandler(c *echo.Context) error {
	var tpl models.Template
	if err := c.Bind(&tpl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tpl.ID = c.Param("id")
	if err := template.ValidateTemplate(&tpl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.templates.Update(c.Request().Context(), &tpl); err != nil {
		return mapServiceError(err)
	}
	s.registry.EvictTemplate(tpl.ID)
	return c.JSON(http.StatusOK, tpl)
}

// deleteTemplateHandler handles DELETE /api/template/templates/:id.
func (s *Server) deleteTemplateHandler(c *echo.Context) error {
	if err := s.templates.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	s.registry.EvictTemplate(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
