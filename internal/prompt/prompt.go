// Package prompt turns a student query into a generation request for the
// text model. The template is fixed and versioned; its section markers are the
// contract the parse package relies on.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

const (
	// TemplateVersion identifies the instruction template. Bump it whenever the
	// wording or the section contract changes.
	TemplateVersion = "v1"

	// SceneName is the single Scene class the generated code must define and the
	// renderer is told to render.
	SceneName = "AnimationScene"

	AnimationStart = "<manim>"
	AnimationEnd   = "</manim>"
	NarrationStart = "<voiceover>"
	NarrationEnd   = "</voiceover>"

	secondsPerStep = "2–3"
)

// ErrEmptyQuery is returned for queries that are blank after trimming.
var ErrEmptyQuery = errors.New("query is empty")

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Query is an accepted, non-blank student question.
type Query struct {
	text string
}

// NewQuery validates raw input. Surrounding whitespace is kept out of the
// prompt but the text is otherwise used verbatim.
func NewQuery(raw string) (Query, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Query{}, ErrEmptyQuery
	}
	return Query{text: text}, nil
}

func (q Query) String() string {
	return q.text
}

// Request is the fully specified generation request sent to the model.
type Request struct {
	Query           string
	Prompt          string
	Model           string
	TemplateVersion string
}

// Builder renders the instruction template. It is safe for concurrent use.
type Builder struct {
	tmpl  *template.Template
	model string
}

type templateData struct {
	Query          string
	SceneName      string
	SecondsPerStep string
	AnimationStart string
	AnimationEnd   string
	NarrationStart string
	NarrationEnd   string
}

// NewBuilder parses the embedded template for TemplateVersion.
func NewBuilder(model string) (*Builder, error) {
	name := "explainer_" + TemplateVersion + ".tmpl"
	tmpl, err := template.ParseFS(templatesFS, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template %s: %w", name, err)
	}
	return &Builder{tmpl: tmpl.Lookup(name), model: model}, nil
}

// Build embeds q into the template.
func (b *Builder) Build(q Query) (Request, error) {
	if q.text == "" {
		return Request{}, ErrEmptyQuery
	}

	var buf bytes.Buffer
	err := b.tmpl.Execute(&buf, templateData{
		Query:          q.text,
		SceneName:      SceneName,
		SecondsPerStep: secondsPerStep,
		AnimationStart: AnimationStart,
		AnimationEnd:   AnimationEnd,
		NarrationStart: NarrationStart,
		NarrationEnd:   NarrationEnd,
	})
	if err != nil {
		return Request{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	return Request{
		Query:           q.text,
		Prompt:          buf.String(),
		Model:           b.model,
		TemplateVersion: TemplateVersion,
	}, nil
}
