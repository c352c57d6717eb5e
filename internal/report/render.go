package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Display layouts for the report body.
const (
	LongDateLayout      = "January 2, 2006"
	ShortDateTimeLayout = "Jan 2, 2006 3:04 PM"
)

// Renderer turns a Report into an HTML email body.
type Renderer struct {
	tmpl *template.Template
	now  func() time.Time
}

// NewRenderer parses the embedded report template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{now: time.Now}
	tmpl, err := template.New("report.html.tmpl").Funcs(template.FuncMap{
		"longDate":      func(t time.Time) string { return t.Format(LongDateLayout) },
		"shortDateTime": func(t time.Time) string { return t.Format(ShortDateTimeLayout) },
		"lastLogin":     func(t *time.Time) string { return FormatLastLogin(t, r.now()) },
	}).ParseFS(templateFS, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

// Render executes the report template.
func (r *Renderer) Render(rep *Report) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, rep); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// FormatLastLogin shows a login within the last 24 hours relative to now
// ("3 hours ago") and older logins as a date. A nil time renders "Never".
func FormatLastLogin(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "Never"
	}
	d := now.Sub(*t)
	if d < 0 {
		d = 0
	}
	if d >= 24*time.Hour {
		return t.Format(ShortDateTimeLayout)
	}
	switch {
	case d < time.Minute:
		return plural(int(d.Seconds()), "second") + " ago"
	case d < time.Hour:
		return plural(int(d.Round(time.Minute).Minutes()), "minute") + " ago"
	default:
		return plural(int(d.Round(time.Hour).Hours()), "hour") + " ago"
	}
}

func plural(n int, unit string) string {
	if n < 1 {
		n = 1
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
