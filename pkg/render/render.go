package render

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Engine renders templates embedded in the package.
type Engine struct {
	templates *template.Template
}

// New initialises an Engine by parsing all embedded templates.
func New() (*Engine, error) {
	t, err := template.New("render").Funcs(template.FuncMap{
		"duration": Duration,
		"percent":  Percent,
		"ts":       Timestamp,
	}).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render executes the named template with the provided data and returns the rendered string.
func (e *Engine) Render(name string, data any) (string, error) {
	if e == nil || e.templates == nil {
		return "", fmt.Errorf("nil engine")
	}

	buf := bytes.NewBuffer(nil)
	if err := e.templates.ExecuteTemplate(buf, name, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// Duration formats whole seconds as e.g. "1h2m3s".
func Duration(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

// Percent returns part as a whole-number percentage of part+rest.
func Percent(part, rest int64) int64 {
	total := part + rest
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}

// Timestamp formats t in RFC 3339, or "-" when t is nil or zero.
func Timestamp(t any) string {
	switch v := t.(type) {
	case time.Time:
		if v.IsZero() {
			return "-"
		}
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil || v.IsZero() {
			return "-"
		}
		return v.UTC().Format(time.RFC3339)
	default:
		return "-"
	}
}
