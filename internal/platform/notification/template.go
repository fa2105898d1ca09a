package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a message body with {{key}} placeholders filled from the event
// payload. Templates are keyed by event type.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:   string(EventCascadeOffered),
			Name: "Goal Ready For Confirmation",
			Body: "All milestones under \"{{outcome_title}}\" are resolved. Please confirm whether the goal was achieved.",
		},
		{
			ID:   string(EventGoalAchieved),
			Name: "Goal Achieved",
			Body: "Congratulations! \"{{outcome_title}}\" has been achieved.",
		},
		{
			ID:   string(EventPatientStatusChanged),
			Name: "Patient Status Changed",
			Body: "Patient status changed from {{previous_status}} to {{new_status}}: {{reason}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}
