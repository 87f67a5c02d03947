package template

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/surveyease/surveyease/pkg/models"
)

// FileTemplateStore keeps templates in a single JSON array file. The file is
// read once at construction and rewritten atomically on every mutation.
type FileTemplateStore struct {
	path string

	mu        sync.RWMutex
	templates []models.Template
}

// NewFileTemplateStore loads the template file. A missing file starts the
// store empty; the file is created on first write.
func NewFileTemplateStore(path string) (*FileTemplateStore, error) {
	s := &FileTemplateStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the backing file, discarding in-memory state.
func (s *FileTemplateStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.templates = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", s.path, err)
	}

	var templates []models.Template
	if err := json.Unmarshal(data, &templates); err != nil {
		return fmt.Errorf("failed to parse template file %s: %w", s.path, err)
	}
	s.templates = templates
	return nil
}

// List returns all templates.
func (s *FileTemplateStore) List(ctx context.Context) ([]models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Template, len(s.templates))
	copy(out, s.templates)
	return out, nil
}

// Get returns the template with the given id.
func (s *FileTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.templates {
		if s.templates[i].ID == id {
			tpl := s.templates[i]
			return &tpl, nil
		}
	}
	return nil, fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
}

// Create adds a new template.
func (s *FileTemplateStore) Create(ctx context.Context, tpl *models.Template) error {
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.templates {
		if s.templates[i].ID == tpl.ID {
			return fmt.Errorf("template %s: %w", tpl.ID, ErrAlreadyExists)
		}
	}
	s.templates = append(s.templates, *tpl)
	return s.persist()
}

// Update replaces an existing template.
func (s *FileTemplateStore) Update(ctx context.Context, tpl *models.Template) error {
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.templates {
		if s.templates[i].ID == tpl.ID {
			s.templates[i] = *tpl
			return s.persist()
		}
	}
	return fmt.Errorf("template %s: %w", tpl.ID, ErrTemplateNotFound)
}

// Delete removes a template.
func (s *FileTemplateStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.templates {
		if s.templates[i].ID == id {
			s.templates = append(s.templates[:i], s.templates[i+1:]...)
			return s.persist()
		}
	}
	return fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
}

func (s *FileTemplateStore) persist() error {
	return writeJSONFile(s.path, s.templates)
}

// FileHostStore keeps hosts in a single JSON array file, same scheme as
// FileTemplateStore.
type FileHostStore struct {
	path string

	mu    sync.RWMutex
	hosts []models.Host
}

// NewFileHostStore loads the host file.
func NewFileHostStore(path string) (*FileHostStore, error) {
	s := &FileHostStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the backing file, discarding in-memory state.
func (s *FileHostStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.hosts = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read host file %s: %w", s.path, err)
	}

	var hosts []models.Host
	if err := json.Unmarshal(data, &hosts); err != nil {
		return fmt.Errorf("failed to parse host file %s: %w", s.path, err)
	}
	s.hosts = hosts
	return nil
}

// List returns all hosts.
func (s *FileHostStore) List(ctx context.Context) ([]models.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Host, len(s.hosts))
	copy(out, s.hosts)
	return out, nil
}

// Get returns the host with the given id.
func (s *FileHostStore) Get(ctx context.Context, id string) (*models.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.hosts {
		if s.hosts[i].ID == id {
			host := s.hosts[i]
			return &host, nil
		}
	}
	return nil, fmt.Errorf("host %s: %w", id, ErrHostNotFound)
}

// Create adds a new host.
func (s *FileHostStore) Create(ctx context.Context, host *models.Host) error {
	if err := ValidateHost(host); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.hosts {
		if s.hosts[i].ID == host.ID {
			return fmt.Errorf("host %s: %w", host.ID, ErrAlreadyExists)
		}
	}
	s.hosts = append(s.hosts, *host)
	return s.persist()
}

// Update replaces an existing host.
func (s *FileHostStore) Update(ctx context.Context, host *models.Host) error {
	if err := ValidateHost(host); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.hosts {
		if s.hosts[i].ID == host.ID {
			s.hosts[i] = *host
			return s.persist()
		}
	}
	return fmt.Errorf("host %s: %w", host.ID, ErrHostNotFound)
}

// Delete removes a host.
func (s *FileHostStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.hosts {
		if s.hosts[i].ID == id {
			s.hosts = append(s.hosts[:i], s.hosts[i+1:]...)
			return s.persist()
		}
	}
	return fmt.Errorf("host %s: %w", id, ErrHostNotFound)
}

func (s *FileHostStore) persist() error {
	return writeJSONFile(s.path, s.hosts)
}

// writeJSONFile writes via a temp file and rename so readers never observe a
// half-written file.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
