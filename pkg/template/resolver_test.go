package template

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveyease/surveyease/pkg/models"
)

func testTemplate() *models.Template {
	return &models.Template{
		ID:                  "tpl-1",
		Theme:               "{{product}}满意度调研",
		SystemPrompt:        "围绕{{product}}提问",
		BackgroundKnowledge: "{{product}}于{{year}}年发布",
		MaxTurns:            3,
		WelcomeMessage:      "欢迎参加{{product}}调研",
		EndMessage:          "感谢参与",
		Steps: []models.Step{
			{ID: "0", Content: "询问用户对{{product}}的看法", Type: models.StepLinear},
			{ID: "1", Content: "追问细节", Type: models.StepCondition,
				Condition: "用户喜欢{{product}}", Branches: []string{"1", "END"}},
		},
		Variables: map[string]string{"product": "星尘耳机", "year": "2024"},
		HostID:    "host-1",
	}
}

func newTestStores(t *testing.T) (*FileTemplateStore, *FileHostStore) {
	t.Helper()
	dir := t.TempDir()

	templates, err := NewFileTemplateStore(filepath.Join(dir, "survey_template.json"))
	require.NoError(t, err)
	hosts, err := NewFileHostStore(filepath.Join(dir, "host_config.json"))
	require.NoError(t, err)

	require.NoError(t, templates.Create(context.Background(), testTemplate()))
	require.NoError(t, hosts.Create(context.Background(), &models.Host{
		ID: "host-1", Name: "小星", Role: "你是一位亲切的调研主持人",
	}))
	return templates, hosts
}

func TestApplyVariables(t *testing.T) {
	bindings := map[string]string{"name": "星尘", "year": "2024"}

	assert.Equal(t, "星尘于2024年发布", ApplyVariables("{{name}}于{{year}}年发布", bindings))

	t.Run("unknown tokens pass through", func(t *testing.T) {
		assert.Equal(t, "hello {{missing}}", ApplyVariables("hello {{missing}}", bindings))
	})

	t.Run("idempotent", func(t *testing.T) {
		once := ApplyVariables("{{name}} {{missing}}", bindings)
		assert.Equal(t, once, ApplyVariables(once, bindings))
	})

	t.Run("empty bindings", func(t *testing.T) {
		assert.Equal(t, "{{name}}", ApplyVariables("{{name}}", nil))
	})
}

func TestResolver_Resolve(t *testing.T) {
	templates, hosts := newTestStores(t)
	resolver := NewResolver(templates, hosts)

	resolved, err := resolver.Resolve(context.Background(), "tpl-1")
	require.NoError(t, err)

	assert.Equal(t, "星尘耳机满意度调研", resolved.Theme)
	assert.Equal(t, "欢迎参加星尘耳机调研", resolved.WelcomeMessage)
	assert.Equal(t, "询问用户对星尘耳机的看法", resolved.Steps[0].Content)
	assert.Equal(t, "用户喜欢星尘耳机", resolved.Steps[1].Condition)

	// Host role, template prompt and background knowledge in order.
	assert.Equal(t,
		"你是一位亲切的调研主持人\n围绕星尘耳机提问\n# 背景知识\n星尘耳机于2024年发布",
		resolved.SystemPrompt)
}

func TestResolver_OmitsBlankBackground(t *testing.T) {
	templates, hosts := newTestStores(t)

	tpl := testTemplate()
	tpl.BackgroundKnowledge = "   "
	require.NoError(t, templates.Update(context.Background(), tpl))

	resolved, err := NewResolver(templates, hosts).Resolve(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.NotContains(t, resolved.SystemPrompt, "背景知识")
}

func TestResolver_NoHost(t *testing.T) {
	templates, hosts := newTestStores(t)

	tpl := testTemplate()
	tpl.HostID = ""
	require.NoError(t, templates.Update(context.Background(), tpl))

	resolved, err := NewResolver(templates, hosts).Resolve(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "围绕星尘耳机提问\n# 背景知识\n星尘耳机于2024年发布", resolved.SystemPrompt)
}

func TestResolver_NotFound(t *testing.T) {
	templates, hosts := newTestStores(t)
	resolver := NewResolver(templates, hosts)

	_, err := resolver.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	tpl := testTemplate()
	tpl.HostID = "ghost"
	require.NoError(t, templates.Update(context.Background(), tpl))

	_, err = resolver.Resolve(context.Background(), "tpl-1")
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestResolver_DoesNotMutateStoredTemplate(t *testing.T) {
	templates, hosts := newTestStores(t)

	_, err := NewResolver(templates, hosts).Resolve(context.Background(), "tpl-1")
	require.NoError(t, err)

	stored, err := templates.Get(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "{{product}}满意度调研", stored.Theme)
}

func TestValidateTemplate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Template)
	}{
		{"missing id", func(tpl *models.Template) { tpl.ID = "" }},
		{"missing theme", func(tpl *models.Template) { tpl.Theme = "" }},
		{"missing system prompt", func(tpl *models.Template) { tpl.SystemPrompt = "" }},
		{"missing welcome message", func(tpl *models.Template) { tpl.WelcomeMessage = "" }},
		{"missing end message", func(tpl *models.Template) { tpl.EndMessage = "" }},
		{"no steps", func(tpl *models.Template) { tpl.Steps = nil }},
		{"zero max turns", func(tpl *models.Template) { tpl.MaxTurns = 0 }},
		{"condition with one branch", func(tpl *models.Template) {
			tpl.Steps[1].Branches = []string{"END"}
		}},
		{"condition without text", func(tpl *models.Template) { tpl.Steps[1].Condition = "" }},
		{"branch out of range", func(tpl *models.Template) {
			tpl.Steps[1].Branches = []string{"3", "END"}
		}},
		{"branch not a number", func(tpl *models.Template) {
			tpl.Steps[1].Branches = []string{"first", "END"}
		}},
		{"linear step with branches", func(tpl *models.Template) {
			tpl.Steps[0].Branches = []string{"1", "END"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl := testTemplate()
			tc.mutate(tpl)
			assert.Error(t, ValidateTemplate(tpl))
		})
	}

	t.Run("valid template passes", func(t *testing.T) {
		assert.NoError(t, ValidateTemplate(testTemplate()))
	})

	t.Run("backward branch target allowed", func(t *testing.T) {
		tpl := testTemplate()
		tpl.Steps[1].Branches = []string{"1", "2"}
		assert.NoError(t, ValidateTemplate(tpl))
	})
}

func TestFileStores_CRUDAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "survey_template.json")
	ctx := context.Background()

	store, err := NewFileTemplateStore(path)
	require.NoError(t, err)

	tpl := testTemplate()
	require.NoError(t, store.Create(ctx, tpl))
	assert.ErrorIs(t, store.Create(ctx, tpl), ErrAlreadyExists)

	// A second store over the same file sees the persisted data.
	reopened, err := NewFileTemplateStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, tpl.Theme, got.Theme)

	tpl.Theme = "更新后的主题"
	require.NoError(t, store.Update(ctx, tpl))
	require.NoError(t, reopened.Reload())
	got, err = reopened.Get(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "更新后的主题", got.Theme)

	require.NoError(t, store.Delete(ctx, "tpl-1"))
	_, err = store.Get(ctx, "tpl-1")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
