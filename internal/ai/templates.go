package ai

import (
	"embed"
	"strings"
	"text/template"

	contextutils "assessapp/internal/utils"
)

//go:embed templates/*.tmpl
var promptTemplatesFS embed.FS

// Template names
const (
	ContentEvaluationTemplate = "content_evaluation.tmpl"
)

// PromptData holds the values rendered into evaluation prompts
type PromptData struct {
	QuestionType   string
	Question       string
	ExpectedAnswer string
	Rubric         string
	Response       string
}

// TemplateManager renders the embedded prompt templates
type TemplateManager struct {
	templates *template.Template
}

// NewTemplateManager parses every embedded template
func NewTemplateManager() (*TemplateManager, error) {
	templates, err := template.New("").ParseFS(promptTemplatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to parse prompt templates")
	}
	return &TemplateManager{templates: templates}, nil
}

// Render executes the named template
func (tm *TemplateManager) Render(name string, data PromptData) (string, error) {
	var buf strings.Builder
	if err := tm.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", contextutils.WrapErrorf(err, "failed to render template %s", name)
	}
	return buf.String(), nil
}
