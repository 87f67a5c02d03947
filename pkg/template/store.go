package template

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/surveyease/surveyease/pkg/models"
)

// Lookup failures shared by every store backend.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrHostNotFound     = errors.New("host not found")
	ErrAlreadyExists    = errors.New("already exists")
)

// TemplateStore is the persistence interface for survey templates.
type TemplateStore interface {
	List(ctx context.Context) ([]models.Template, error)
	Get(ctx context.Context, id string) (*models.Template, error)
	Create(ctx context.Context, tpl *models.Template) error
	Update(ctx context.Context, tpl *models.Template) error
	Delete(ctx context.Context, id string) error
}

// HostStore is the persistence interface for survey hosts.
type HostStore interface {
	List(ctx context.Context) ([]models.Host, error)
	Get(ctx context.Context, id string) (*models.Host, error)
	Create(ctx context.Context, host *models.Host) error
	Update(ctx context.Context, host *models.Host) error
	Delete(ctx context.Context, id string) error
}

// ValidateTemplate checks a template before it is stored.
func ValidateTemplate(tpl *models.Template) error {
	if tpl == nil {
		return fmt.Errorf("template is required")
	}
	if tpl.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if tpl.Theme == "" {
		return fmt.Errorf("template theme is required")
	}
	if tpl.SystemPrompt == "" {
		return fmt.Errorf("template system_prompt is required")
	}
	if tpl.WelcomeMessage == "" {
		return fmt.Errorf("template welcome_message is required")
	}
	if tpl.EndMessage == "" {
		return fmt.Errorf("template end_message is required")
	}
	if len(tpl.Steps) == 0 {
		return fmt.Errorf("template must define at least one step")
	}
	if tpl.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive")
	}
	for i, step := range tpl.Steps {
		if step.Content == "" {
			return fmt.Errorf("step %d: content is required", i)
		}
		switch step.Type {
		case models.StepLinear:
			if step.Condition != "" || len(step.Branches) != 0 {
				return fmt.Errorf("step %d: linear steps cannot carry a condition or branches", i)
			}
		case models.StepCondition:
			if step.Condition == "" {
				return fmt.Errorf("step %d: condition text is required", i)
			}
			if len(step.Branches) != 2 {
				return fmt.Errorf("step %d: condition steps need exactly two branches", i)
			}
			for _, branch := range step.Branches {
				if err := validateBranch(branch, len(tpl.Steps)); err != nil {
					return fmt.Errorf("step %d: %w", i, err)
				}
			}
		default:
			return fmt.Errorf("step %d: unknown step type %q", i, step.Type)
		}
	}
	return nil
}

// validateBranch accepts "END" or a 1-based step number within range.
func validateBranch(branch string, stepCount int) error {
	if branch == models.BranchEnd {
		return nil
	}
	n, err := strconv.Atoi(branch)
	if err != nil {
		return fmt.Errorf("invalid branch target %q", branch)
	}
	if n < 1 || n > stepCount {
		return fmt.Errorf("branch target %d out of range 1..%d", n, stepCount)
	}
	return nil
}

// ValidateHost checks a host before it is stored.
func ValidateHost(host *models.Host) error {
	if host == nil {
		return fmt.Errorf("host is required")
	}
	if host.ID == "" {
		return fmt.Errorf("host id is required")
	}
	if host.Name == "" {
		return fmt.Errorf("host name is required")
	}
	if host.Role == "" {
		return fmt.Errorf("host role is required")
	}
	return nil
}
