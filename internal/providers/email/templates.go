package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var subjects = map[string]string{
	"password_reset": "Reset your Green PM password",
	"user_invite":    "You have been invited to Green PM",
	"broadcast":      "Message from Green PM",
}

// Render executes the named template. A "subject" entry in data overrides
// the template's default subject.
func Render(name string, data map[string]any) (string, string, error) {
	tmpl := templates.Lookup(name + ".html")
	if tmpl == nil {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template: %w", err)
	}

	subject := subjects[name]
	if custom, ok := data["subject"].(string); ok && custom != "" {
		subject = custom
	}
	return subject, body.String(), nil
}
