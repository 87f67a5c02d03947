package template

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/surveyease/surveyease/pkg/models"
)

// SQLTemplateStore persists templates in PostgreSQL with soft deletes.
// Steps and variable bindings live in child tables and are loaded eagerly;
// templates are small.
type SQLTemplateStore struct {
	db *sql.DB
}

// NewSQLTemplateStore creates a SQL-backed template store.
func NewSQLTemplateStore(db *sql.DB) *SQLTemplateStore {
	return &SQLTemplateStore{db: db}
}

// List returns all non-deleted templates.
func (s *SQLTemplateStore) List(ctx context.Context) ([]models.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM ai_survey_template WHERE is_deleted = FALSE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan template id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	templates := make([]models.Template, 0, len(ids))
	for _, id := range ids {
		tpl, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tpl)
	}
	return templates, nil
}

// Get loads one template with its steps and variables.
func (s *SQLTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	var tpl models.Template
	var hostID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, theme, system_prompt, background_knowledge, max_turns,
		        welcome_message, end_message, host_id
		 FROM ai_survey_template
		 WHERE id = $1 AND is_deleted = FALSE`, id).
		Scan(&tpl.ID, &tpl.Theme, &tpl.SystemPrompt, &tpl.BackgroundKnowledge,
			&tpl.MaxTurns, &tpl.WelcomeMessage, &tpl.EndMessage, &hostID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	tpl.HostID = hostID.String

	steps, err := s.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl.Steps = steps

	variables, err := s.loadVariables(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl.Variables = variables
	return &tpl, nil
}

func (s *SQLTemplateStore) loadSteps(ctx context.Context, templateID string) ([]models.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_index, content, step_type, condition, branches
		 FROM ai_survey_template_step
		 WHERE template_id = $1
		 ORDER BY step_index`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	var steps []models.Step
	for rows.Next() {
		var idx int
		var step models.Step
		var branchesJSON []byte
		if err := rows.Scan(&idx, &step.Content, &step.Type, &step.Condition, &branchesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if len(branchesJSON) > 0 {
			if err := json.Unmarshal(branchesJSON, &step.Branches); err != nil {
				return nil, fmt.Errorf("failed to decode branches for step %d: %w", idx, err)
			}
		}
		step.ID = fmt.Sprintf("%d", idx)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *SQLTemplateStore) loadVariables(ctx context.Context, templateID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT var_key, var_value FROM ai_survey_template_variable
		 WHERE template_id = $1`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variables: %w", err)
	}
	defer rows.Close()

	variables := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		variables[k] = v
	}
	if len(variables) == 0 {
		variables = nil
	}
	return variables, rows.Err()
}

// Create inserts a template with its steps and variables.
func (s *SQLTemplateStore) Create(ctx context.Context, tpl *models.Template) error {
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ai_survey_template WHERE id = $1 AND is_deleted = FALSE)`,
		tpl.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check template existence: %w", err)
	}
	if exists {
		return fmt.Errorf("template %s: %w", tpl.ID, ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ai_survey_template
		   (id, theme, system_prompt, background_knowledge, max_turns,
		    welcome_message, end_message, host_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))`,
		tpl.ID, tpl.Theme, tpl.SystemPrompt, tpl.BackgroundKnowledge,
		tpl.MaxTurns, tpl.WelcomeMessage, tpl.EndMessage, tpl.HostID); err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	if err := insertChildren(ctx, tx, tpl); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template: %w", err)
	}
	return nil
}

// Update rewrites a template and replaces its child rows.
func (s *SQLTemplateStore) Update(ctx context.Context, tpl *models.Template) error {
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE ai_survey_template
		 SET theme = $2, system_prompt = $3, background_knowledge = $4,
		     max_turns = $5, welcome_message = $6, end_message = $7,
		     host_id = NULLIF($8, ''), updated_at = NOW()
		 WHERE id = $1 AND is_deleted = FALSE`,
		tpl.ID, tpl.Theme, tpl.SystemPrompt, tpl.BackgroundKnowledge,
		tpl.MaxTurns, tpl.WelcomeMessage, tpl.EndMessage, tpl.HostID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s: %w", tpl.ID, ErrTemplateNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ai_survey_template_step WHERE template_id = $1`, tpl.ID); err != nil {
		return fmt.Errorf("failed to clear steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ai_survey_template_variable WHERE template_id = $1`, tpl.ID); err != nil {
		return fmt.Errorf("failed to clear variables: %w", err)
	}

	if err := insertChildren(ctx, tx, tpl); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template: %w", err)
	}
	return nil
}

// Delete soft-deletes a template.
func (s *SQLTemplateStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_survey_template SET is_deleted = TRUE, updated_at = NOW()
		 WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
	}
	return nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, tpl *models.Template) error {
	for i, step := range tpl.Steps {
		branches, err := json.Marshal(step.Branches)
		if err != nil {
			return fmt.Errorf("failed to encode branches for step %d: %w", i, err)
		}
		if step.Branches == nil {
			branches = []byte("[]")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ai_survey_template_step
			   (template_id, step_index, content, step_type, condition, branches)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			tpl.ID, i, step.Content, string(step.Type), step.Condition, branches); err != nil {
			return fmt.Errorf("failed to insert step %d: %w", i, err)
		}
	}
	for k, v := range tpl.Variables {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ai_survey_template_variable (template_id, var_key, var_value)
			 VALUES ($1, $2, $3)`, tpl.ID, k, v); err != nil {
			return fmt.Errorf("failed to insert variable %s: %w", k, err)
		}
	}
	return nil
}

// SQLHostStore persists hosts in PostgreSQL with soft deletes.
type SQLHostStore struct {
	db *sql.DB
}

// NewSQLHostStore creates a SQL-backed host store.
func NewSQLHostStore(db *sql.DB) *SQLHostStore {
	return &SQLHostStore{db: db}
}

// List returns all non-deleted hosts.
func (s *SQLHostStore) List(ctx context.Context) ([]models.Host, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, role FROM ai_host WHERE is_deleted = FALSE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []models.Host
	for rows.Next() {
		var h models.Host
		if err := rows.Scan(&h.ID, &h.Name, &h.Role); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// Get returns one host.
func (s *SQLHostStore) Get(ctx context.Context, id string) (*models.Host, error) {
	var h models.Host
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, role FROM ai_host WHERE id = $1 AND is_deleted = FALSE`, id).
		Scan(&h.ID, &h.Name, &h.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("host %s: %w", id, ErrHostNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	return &h, nil
}

// Create inserts a host.
func (s *SQLHostStore) Create(ctx context.Context, host *models.Host) error {
	if err := ValidateHost(host); err != nil {
		return err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ai_host WHERE id = $1 AND is_deleted = FALSE)`,
		host.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check host existence: %w", err)
	}
	if exists {
		return fmt.Errorf("host %s: %w", host.ID, ErrAlreadyExists)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_host (id, name, role) VALUES ($1, $2, $3)`,
		host.ID, host.Name, host.Role); err != nil {
		return fmt.Errorf("failed to insert host: %w", err)
	}
	return nil
}

// Update rewrites a host.
func (s *SQLHostStore) Update(ctx context.Context, host *models.Host) error {
	if err := ValidateHost(host); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_host SET name = $2, role = $3, updated_at = NOW()
		 WHERE id = $1 AND is_deleted = FALSE`,
		host.ID, host.Name, host.Role)
	if err != nil {
		return fmt.Errorf("failed to update host: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("host %s: %w", host.ID, ErrHostNotFound)
	}
	return nil
}

// Delete soft-deletes a host.
func (s *SQLHostStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_host SET is_deleted = TRUE, updated_at = NOW()
		 WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("host %s: %w", id, ErrHostNotFound)
	}
	return nil
}
