package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/avolkov/incident-bridge/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer turns queue payloads into channel-specific subject and body text.
// Templates are named <channel>_<message type>.tmpl and parsed once at
// construction.
type Renderer struct {
	root *template.Template
}

// NewRenderer parses the embedded template set.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          strings.ToUpper,
		"lower":          strings.ToLower,
		"join":           strings.Join,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
		"severityEmoji":  severityEmoji,
		"statusEmoji":    statusEmoji,
		"escapeHTML":     html.EscapeString,
	}

	root, err := template.New("notifications").Funcs(funcMap).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}

	return &Renderer{root: root}, nil
}

// Render renders a notification payload for the specified channel type.
// Returns subject and body.
func (r *Renderer) Render(channelType domain.ChannelType, payload NotificationPayload) (subject, body string, err error) {
	name := fmt.Sprintf("%s_%s.tmpl", channelType, payload.MessageType)
	tmpl := r.root.Lookup(name)
	if tmpl == nil {
		return "", "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return r.renderSubject(payload), strings.TrimSpace(buf.String()), nil
}

// renderSubject builds the subject line shared by all channels.
func (r *Renderer) renderSubject(payload NotificationPayload) string {
	var prefix string
	switch payload.MessageType {
	case MessageTypeCreated:
		prefix = fmt.Sprintf("Incident (%s)", titleCase(payload.Incident.Severity))
	case MessageTypeResolved:
		prefix = "Resolved"
	default:
		prefix = "Notification"
	}

	return fmt.Sprintf("[%s] %s", prefix, payload.Incident.Title)
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

var severityEmojis = map[string]string{
	"critical":      "🔴",
	"high":          "🟠",
	"medium":        "🟡",
	"low":           "🟢",
	"informational": "🔵",
}

func severityEmoji(severity string) string {
	if e, ok := severityEmojis[strings.ToLower(severity)]; ok {
		return e
	}
	return "⚪"
}

var statusEmojis = map[string]string{
	"open":     "🔍",
	"doing":    "🔧",
	"resolved": "✅",
}

func statusEmoji(status string) string {
	if e, ok := statusEmojis[strings.ToLower(status)]; ok {
		return e
	}
	return "📋"
}
