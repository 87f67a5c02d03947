// Package api exposes the HTTP surface: survey streaming, chat history,
// and template/host administration.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/surveyease/surveyease/pkg/checkpoint"
	"github.com/surveyease/surveyease/pkg/services"
	"github.com/surveyease/surveyease/pkg/session"
	"github.com/surveyease/surveyease/pkg/template"
)

// Server is the API server.
type Server struct {
	registry    *session.Registry
	chats       *services.ChatService
	templates   template.TemplateStore
	hosts       template.HostStore
	db          *sql.DB
	checkpoints *checkpoint.Store

	httpServer *http.Server
}

// NewServer creates the API server. chats and db may be nil when the
// relational side-store is disabled.
func NewServer(registry *session.Registry, chats *services.ChatService, templates template.TemplateStore, hosts template.HostStore, db *sql.DB) *Server {
	return &Server{
		registry:  registry,
		chats:     chats,
		templates: templates,
		hosts:     hosts,
		db:        db,
	}
}

// SetCheckpointStore enables the checkpoint-store probe on /health.
func (s *Server) SetCheckpointStore(store *checkpoint.Store) {
	s.checkpoints = store
}

// Handler builds the routed echo handler.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())
	e.Use(corsHeaders())

	e.GET("/health", s.healthHandler)

	survey := e.Group("/api/survey")
	survey.POST("/chat/stream", s.streamChatHandler)
	survey.POST("/chat/continue", s.continueChatHandler)
	survey.GET("/chat/history", s.listChatHistoryHandler)
	survey.GET("/chat/history/:conversation_id", s.getChatHistoryHandler)
	survey.DELETE("/chat/history/:conversation_id", s.deleteChatHistoryHandler)

	tpl := e.Group("/api/template")
	tpl.GET("/templates", s.listTemplatesHandler)
	tpl.POST("/templates", s.createTemplateHandler)
	tpl.GET("/templates/:id", s.getTemplateHandler)
	tpl.PUT("/templates/:id", s.updateTemplateHandler)
	tpl.DELETE("/templates/:id", s.deleteTemplateHandler)

	host := e.Group("/api/host")
	host.GET("/hosts", s.listHostsHandler)
	host.POST("/hosts", s.createHostHandler)
	host.GET("/hosts/:id", s.getHostHandler)
	host.PUT("/hosts/:id", s.updateHostHandler)
	host.DELETE("/hosts/:id", s.deleteHostHandler)

	return e
}

// Start begins serving on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
