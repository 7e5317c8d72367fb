package notify

import (
	"bytes"
	"fmt"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"

	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/schedule"
)

// TemplateData is the view model available to notification templates. The
// booking and business are re-resolved at delivery time, so templates always
// reflect current state.
type TemplateData struct {
	BusinessName string
	CustomerName string
	ServiceName  string
	StaffName    string
	When         schedule.LocalTime
}

// Rendered is a template-rendering result.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer is the template-rendering collaborator contract: given a template
// type, data, and a language code, it returns the subject and body, or an
// error when no template exists for the requested type/language.
type Renderer interface {
	Render(kind, lang string, data TemplateData) (Rendered, error)
}

// templateSet holds one language's subject/body templates for a type.
type templateSet struct {
	subject string
	text    string
}

// builtins: per-type, per-language templates. The HTML body is derived from
// the text body with minimal markup rather than maintained separately.
var builtins = map[string]map[language.Tag]templateSet{
	domain.NotificationTypeConfirmation: {
		language.English: {
			subject: "Your appointment at {{.BusinessName}} is confirmed",
			text: "Hi {{.CustomerName}},\n\n" +
				"Your {{.ServiceName}} appointment{{if .StaffName}} with {{.StaffName}}{{end}} is confirmed for {{.When.Formatted}}.\n\n" +
				"See you soon,\n{{.BusinessName}}",
		},
		language.Spanish: {
			subject: "Tu cita en {{.BusinessName}} está confirmada",
			text: "Hola {{.CustomerName}},\n\n" +
				"Tu cita de {{.ServiceName}}{{if .StaffName}} con {{.StaffName}}{{end}} está confirmada para el {{.When.Formatted}}.\n\n" +
				"Hasta pronto,\n{{.BusinessName}}",
		},
	},
	domain.NotificationTypeReminder: {
		language.English: {
			subject: "Reminder: {{.ServiceName}} at {{.BusinessName}}",
			text: "Hi {{.CustomerName}},\n\n" +
				"This is a reminder of your {{.ServiceName}} appointment{{if .StaffName}} with {{.StaffName}}{{end}} on {{.When.Formatted}}.\n\n" +
				"{{.BusinessName}}",
		},
		language.Spanish: {
			subject: "Recordatorio: {{.ServiceName}} en {{.BusinessName}}",
			text: "Hola {{.CustomerName}},\n\n" +
				"Te recordamos tu cita de {{.ServiceName}}{{if .StaffName}} con {{.StaffName}}{{end}} el {{.When.Formatted}}.\n\n" +
				"{{.BusinessName}}",
		},
	},
	domain.NotificationTypeReview: {
		language.English: {
			subject: "How was your visit to {{.BusinessName}}?",
			text: "Hi {{.CustomerName}},\n\n" +
				"Thanks for visiting {{.BusinessName}}. We'd love to hear how your {{.ServiceName}} went.\n\n" +
				"{{.BusinessName}}",
		},
	},
}

// supported is the matcher priority list; the first tag is the fallback for
// unknown languages.
var supported = []language.Tag{language.English, language.Spanish}

// TemplateRenderer renders the built-in notification templates.
type TemplateRenderer struct {
	matcher language.Matcher
}

// NewTemplateRenderer constructs the default renderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{matcher: language.NewMatcher(supported)}
}

// Render implements Renderer. A missing template for the resolved language
// falls back to English; a type with no templates at all is an error (the
// worker classifies it permanent).
func (r *TemplateRenderer) Render(kind, lang string, data TemplateData) (Rendered, error) {
	byLang, ok := builtins[kind]
	if !ok {
		return Rendered{}, fmt.Errorf("no template for notification type %q", kind)
	}

	// Match by index: the tag returned by the matcher can carry extensions
	// and would miss the map lookup.
	_, idx := language.MatchStrings(r.matcher, lang)
	set, ok := byLang[supported[idx]]
	if !ok {
		set, ok = byLang[language.English]
		if !ok {
			return Rendered{}, fmt.Errorf("no template for type %q in language %q", kind, lang)
		}
	}

	subject, err := execute(kind+"/subject", set.subject, data)
	if err != nil {
		return Rendered{}, err
	}
	text, err := execute(kind+"/text", set.text, data)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{
		Subject: subject,
		Text:    text,
		HTML:    toHTML(text),
	}, nil
}

// execute parses and runs one template against the data.
func execute(name, src string, data TemplateData) (string, error) {
	t, err := texttemplate.New(name).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// toHTML wraps the plain-text body in paragraph markup.
func toHTML(text string) string {
	paras := strings.Split(text, "\n\n")
	var b strings.Builder
	for _, p := range paras {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(p, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
