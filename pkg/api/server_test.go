package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveyease/surveyease/pkg/chatlog"
	"github.com/surveyease/surveyease/pkg/checkpoint"
	"github.com/surveyease/surveyease/pkg/models"
	"github.com/surveyease/surveyease/pkg/session"
	"github.com/surveyease/surveyease/pkg/template"
)

// scriptedOracle replays canned replies in order.
type scriptedOracle struct {
	mu      sync.Mutex
	replies []string
}

func (o *scriptedOracle) Invoke(context.Context, []models.Message) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.replies) == 0 {
		return "还有什么补充吗?", nil
	}
	reply := o.replies[0]
	o.replies = o.replies[1:]
	return reply, nil
}

func writeStoreFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	blob, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, blob, 0o644))
	return path
}

func newTestServer(t *testing.T, oracle *scriptedOracle) *Server {
	t.Helper()

	dir := t.TempDir()
	tplPath := writeStoreFile(t, dir, "templates.json", []models.Template{{
		ID:             "tpl-1",
		Theme:          "产品体验调研",
		SystemPrompt:   "你是一位调研主持人",
		MaxTurns:       3,
		WelcomeMessage: "您好",
		EndMessage:     "感谢参与",
		Steps: []models.Step{
			{ID: "0", Content: "Ask about usage", Type: models.StepLinear},
		},
	}})
	hostPath := writeStoreFile(t, dir, "hosts.json", []models.Host{{
		ID: "host-1", Name: "小艾", Role: "你是一位亲切的主持人",
	}})

	templates, err := template.NewFileTemplateStore(tplPath)
	require.NoError(t, err)
	hosts, err := template.NewFileHostStore(hostPath)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := checkpoint.NewStore(client, "se:", time.Hour)

	writer, err := chatlog.NewWriter(t.TempDir())
	require.NoError(t, err)

	registry := session.NewRegistry(template.NewResolver(templates, hosts), oracle, store, writer, nil)
	srv := NewServer(registry, nil, templates, hosts, nil)
	srv.SetCheckpointStore(store)
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStreamChat(t *testing.T) {
	oracle := &scriptedOracle{replies: []string{"您平时怎么使用这款产品?"}}
	h := newTestServer(t, oracle).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/survey/chat/stream",
		`{"conversation_id":"conv-1","message":"你好","template_id":"tpl-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: \"您平时怎么使用这款产品?\"\n\n", rec.Body.String())
}

func TestStreamChat_ValidationError(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/survey/chat/stream",
		`{"conversation_id":"","message":"你好","template_id":"tpl-1"}`)

	// No frame was emitted, so the failure is a plain JSON error.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestStreamChat_UnknownTemplate(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/survey/chat/stream",
		`{"conversation_id":"conv-1","message":"你好","template_id":"ghost"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContinueChat(t *testing.T) {
	oracle := &scriptedOracle{replies: []string{"您平时怎么使用这款产品?", "FINISH"}}
	h := newTestServer(t, oracle).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/survey/chat/stream",
		`{"conversation_id":"conv-1","message":"你好","template_id":"tpl-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The reply finishes the only step, so the survey ends.
	rec = doJSON(t, h, http.MethodPost, "/api/survey/chat/continue",
		`{"conversation_id":"conv-1","user_response":"每天通勤时用","template_id":"tpl-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: \"感谢参与\"\n\n", rec.Body.String())
}

func TestContinueChat_NoSession(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/survey/chat/continue",
		`{"conversation_id":"ghost","user_response":"好的","template_id":"tpl-1"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatHistory_Unavailable(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/survey/chat/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/survey/chat/history/conv-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTemplateCRUD(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	body := `{
		"id": "tpl-2",
		"theme": "售后满意度",
		"system_prompt": "prompt",
		"max_turns": 2,
		"welcome_message": "hi",
		"end_message": "bye",
		"steps": [{"id": "0", "content": "Ask about support", "type": "LINEAR"}]
	}`
	rec := doJSON(t, h, http.MethodPost, "/api/template/templates", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/template/templates/tpl-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tpl models.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.Equal(t, "售后满意度", tpl.Theme)

	rec = doJSON(t, h, http.MethodGet, "/api/template/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = doJSON(t, h, http.MethodDelete, "/api/template/templates/tpl-2", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/template/templates/tpl-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTemplate_GeneratesID(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	body := `{
		"theme": "新主题",
		"system_prompt": "prompt",
		"max_turns": 2,
		"welcome_message": "hi",
		"end_message": "bye",
		"steps": [{"id": "0", "content": "Ask", "type": "LINEAR"}]
	}`
	rec := doJSON(t, h, http.MethodPost, "/api/template/templates", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var tpl models.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.NotEmpty(t, tpl.ID)
}

func TestCreateTemplate_Invalid(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	// CONDITION step without branches.
	body := `{
		"id": "tpl-bad",
		"theme": "t",
		"max_turns": 2,
		"steps": [{"id": "0", "content": "c", "type": "CONDITION", "condition": "用户满意"}]
	}`
	rec := doJSON(t, h, http.MethodPost, "/api/template/templates", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTemplate_IDFromPath(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	body := `{
		"theme": "更新后的主题",
		"system_prompt": "prompt",
		"max_turns": 5,
		"welcome_message": "hi",
		"end_message": "bye",
		"steps": [{"id": "0", "content": "Ask about usage", "type": "LINEAR"}]
	}`
	rec := doJSON(t, h, http.MethodPut, "/api/template/templates/tpl-1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/template/templates/tpl-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tpl models.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.Equal(t, "更新后的主题", tpl.Theme)
	assert.Equal(t, 5, tpl.MaxTurns)
}

func TestHostCRUD(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/host/hosts",
		`{"id":"host-2","name":"小北","role":"你是一位严谨的访谈员"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/host/hosts",
		`{"id":"host-2","name":"小北","role":"重复"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/host/hosts", `{"id":"host-3","name":"缺角色"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/host/hosts/host-2", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/host/hosts/host-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	rec := doJSON(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, "surveyease", payload["service"])
	assert.Equal(t, "healthy", payload["checkpoint_store"])
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, &scriptedOracle{}).Handler()

	rec := doJSON(t, h, http.MethodOptions, "/api/survey/chat/stream", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
