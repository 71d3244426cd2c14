package prompts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

// ErrTemplateNotFound is returned when a store has no template for an ID
var ErrTemplateNotFound = errors.New("template not found")

// Template is a named instruction template rendered with text/template.
// Values are inserted verbatim; nothing is escaped.
type Template struct {
	ID      string
	Content string
	Version string

	once   sync.Once
	parsed *template.Template
	err    error
}

// TemplateOption is a function that configures a template
type TemplateOption func(*Template)

// WithVersion sets the template version
func WithVersion(version string) TemplateOption {
	return func(t *Template) {
		t.Version = version
	}
}

// New creates a new template
func New(id string, content string, options ...TemplateOption) *Template {
	tmpl := &Template{
		ID:      id,
		Content: content,
		Version: "1",
	}
	for _, option := range options {
		option(tmpl)
	}
	return tmpl
}

// Parse compiles the template once and reports syntax errors
func (t *Template) Parse() error {
	t.once.Do(func() {
		t.parsed, t.err = template.New(t.ID).Option("missingkey=error").Parse(t.Content)
		if t.err != nil {
			t.err = fmt.Errorf("failed to parse template %s: %w", t.ID, t.err)
		}
	})
	return t.err
}

// Render renders the template with the given data
func (t *Template) Render(data map[string]interface{}) (string, error) {
	if err := t.Parse(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.parsed.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.ID, err)
	}
	return buf.String(), nil
}

// TemplateStore looks templates up by ID
type TemplateStore interface {
	Get(ctx context.Context, id string) (*Template, error)
}

// FileStore loads <id>.tmpl files from a directory
type FileStore struct {
	basePath string
}

// NewFileStore creates a file store rooted at basePath, which must exist
func NewFileStore(basePath string) (*FileStore, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to access template directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template path is not a directory: %s", basePath)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute base path: %w", err)
	}
	return &FileStore{basePath: abs}, nil
}

// Get retrieves a template by ID
func (s *FileStore) Get(ctx context.Context, id string) (*Template, error) {
	// Sanitize id to prevent path traversal
	id = filepath.Base(id)
	filePath := filepath.Join(s.basePath, id+".tmpl")
	if !isPathSafe(filePath, s.basePath) {
		return nil, fmt.Errorf("invalid template path")
	}

	data, err := os.ReadFile(filePath) // #nosec G304 - Path is validated with isPathSafe() before use
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	tmpl := New(id, string(data))
	if err := tmpl.Parse(); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Resolve returns the stored template for id, or fallback when the store
// is nil or has no such template.
func Resolve(ctx context.Context, store TemplateStore, id string, fallback *Template) (*Template, error) {
	if store == nil {
		return fallback, nil
	}
	tmpl, err := store.Get(ctx, id)
	if errors.Is(err, ErrTemplateNotFound) {
		return fallback, nil
	}
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// isPathSafe checks if a file path is safe to access
func isPathSafe(filePath string, basePath string) bool {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false
	}

	// Ensure path is within base directory
	return strings.HasPrefix(absPath, basePath+string(filepath.Separator))
}
