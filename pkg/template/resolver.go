// Package template stores survey templates and hosts and resolves them into
// the fully substituted form a session runs on.
package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/surveyease/surveyease/pkg/models"
)

// Resolver turns a stored template into the effective template for a new
// session: every {{key}} variable substituted across all textual fields, and
// the system prompt assembled from the host role, the template prompt and
// the background knowledge.
type Resolver struct {
	templates TemplateStore
	hosts     HostStore
}

// NewResolver creates a Resolver over the given stores.
func NewResolver(templates TemplateStore, hosts HostStore) *Resolver {
	return &Resolver{templates: templates, hosts: hosts}
}

// Resolve loads and fully substitutes the template. The returned template's
// SystemPrompt is the assembled effective prompt.
func (r *Resolver) Resolve(ctx context.Context, templateID string) (*models.Template, error) {
	tpl, err := r.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}

	var hostRole string
	if tpl.HostID != "" {
		host, err := r.hosts.Get(ctx, tpl.HostID)
		if err != nil {
			return nil, err
		}
		hostRole = host.Role
	}

	resolved := *tpl
	resolved.Theme = ApplyVariables(tpl.Theme, tpl.Variables)
	resolved.SystemPrompt = ApplyVariables(tpl.SystemPrompt, tpl.Variables)
	resolved.BackgroundKnowledge = ApplyVariables(tpl.BackgroundKnowledge, tpl.Variables)
	resolved.WelcomeMessage = ApplyVariables(tpl.WelcomeMessage, tpl.Variables)
	resolved.EndMessage = ApplyVariables(tpl.EndMessage, tpl.Variables)

	resolved.Steps = make([]models.Step, len(tpl.Steps))
	for i, step := range tpl.Steps {
		s := step
		s.Content = ApplyVariables(step.Content, tpl.Variables)
		s.Condition = ApplyVariables(step.Condition, tpl.Variables)
		resolved.Steps[i] = s
	}

	resolved.SystemPrompt = assemblePrompt(hostRole, resolved.SystemPrompt, resolved.BackgroundKnowledge)
	return &resolved, nil
}

// ApplyVariables replaces every {{key}} token that matches a binding.
// Tokens without a binding are preserved literally.
func ApplyVariables(text string, bindings map[string]string) string {
	if text == "" || len(bindings) == 0 {
		return text
	}
	for key, value := range bindings {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text
}

// assemblePrompt builds the effective system prompt. The background section
// is omitted when the background knowledge is empty or whitespace.
func assemblePrompt(hostRole, systemPrompt, background string) string {
	var b strings.Builder
	if hostRole != "" {
		b.WriteString(hostRole)
		b.WriteString("\n")
	}
	b.WriteString(systemPrompt)
	if strings.TrimSpace(background) != "" {
		fmt.Fprintf(&b, "\n# 背景知识\n%s", background)
	}
	return b.String()
}
