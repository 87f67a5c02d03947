package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// StreamChatRequest is the body of POST /api/survey/chat/stream.
type StreamChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	TemplateID     string `json:"template_id"`
}

// ContinueChatRequest is the body of POST /api/survey/chat/continue.
type ContinueChatRequest struct {
	ConversationID string `json:"conversation_id"`
	UserResponse   string `json:"user_response"`
	TemplateID     string `json:"template_id"`
}

// sseWriter emits assistant utterances as server-sent-event data frames.
// Headers are committed lazily on the first frame so that failures before
// any output can still produce a regular JSON error response.
type sseWriter struct {
	resp    *echo.Response
	started bool
}

func (w *sseWriter) begin() {
	if w.started {
		return
	}
	h := w.resp.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.resp.WriteHeader(http.StatusOK)
	w.started = true
}

// Emit writes one frame: "data: " + JSON-encoded string + "\n\n".
func (w *sseWriter) Emit(text string) {
	w.begin()
	payload, err := json.Marshal(text)
	if err != nil {
		slog.Error("Failed to encode stream frame", "error", err)
		return
	}
	fmt.Fprintf(w.resp, "data: %s\n\n", payload)
	w.resp.Flush()
}

// streamChatHandler handles POST /api/survey/chat/stream.
func (s *Server) streamChatHandler(c *echo.Context) error {
	var req StreamChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	w := &sseWriter{resp: c.Response().(*echo.Response)}
	err := s.registry.StartStream(c.Request().Context(), req.TemplateID, req.ConversationID, req.Message, w.Emit)
	return finishStream(w, err)
}

// continueChatHandler handles POST /api/survey/chat/continue.
func (s *Server) continueChatHandler(c *echo.Context) error {
	var req ContinueChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	w := &sseWriter{resp: c.Response().(*echo.Response)}
	err := s.registry.Continue(c.Request().Context(), req.TemplateID, req.ConversationID, req.UserResponse, w.Emit)
	return finishStream(w, err)
}

// finishStream closes out a streaming response. Errors before the first
// frame become regular HTTP errors; errors mid-stream become a final data
// frame, after which the stream ends. The session stays resumable from its
// last checkpoint either way.
func finishStream(w *sseWriter, err error) error {
	if err == nil {
		w.begin()
		return nil
	}
	if !w.started {
		return mapServiceError(err)
	}
	slog.Error("Survey stream failed mid-flight", "error", err)
	w.Emit(fmt.Sprintf("发生错误: %s", err))
	return nil
}

// listChatHistoryHandler handles GET /api/survey/chat/history.
func (s *Server) listChatHistoryHandler(c *echo.Context) error {
	if s.chats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat history is not available")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	summaries, err := s.chats.ListConversations(c.Request().Context(), c.QueryParam("template_id"), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

// getChatHistoryHandler handles GET /api/survey/chat/history/:conversation_id.
func (s *Server) getChatHistoryHandler(c *echo.Context) error {
	if s.chats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat history is not available")
	}

	detail, err := s.chats.GetConversationDetail(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

// deleteChatHistoryHandler handles DELETE /api/survey/chat/history/:conversation_id.
func (s *Server) deleteChatHistoryHandler(c *echo.Context) error {
	if s.chats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat history is not available")
	}

	if err := s.chats.DeleteConversation(c.Request().Context(), c.Param("conversation_id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
