package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	TemplateOTPEmail = "otp_email"
	TemplateOTPSMS   = "otp_sms"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var titleCaser = cases.Title(language.English)

// FormatPurpose renders "password_reset" as "Password Reset".
func FormatPurpose(purpose string) string {
	return titleCaser.String(strings.ReplaceAll(purpose, "_", " "))
}

var templates = map[string]messageTemplate{
	TemplateOTPEmail: {
		subject: template.Must(template.New("otp_email_subject").Parse(
			`Xamila - {{.purpose_title}} code`)),
		body: template.Must(template.New("otp_email_body").Parse(
			`Hello {{if .first_name}}{{.first_name}}{{else}}there{{end}},

Your {{.purpose_title}} code is {{.code}}.
It expires in {{.ttl_minutes}} minutes. If you did not request it, ignore this email.

The Xamila team
`)),
	},
	TemplateOTPSMS: {
		body: template.Must(template.New("otp_sms_body").Parse(
			`Xamila {{.purpose_title}} code: {{.code}}. Valid {{.ttl_minutes}} min.`)),
	},
}

// Render returns the subject (empty for SMS templates) and body of
// templateID. A purpose var is also exposed title-cased as purpose_title.
func Render(templateID string, vars map[string]string) (string, string, error) {
	tpl, ok := templates[templateID]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", templateID)
	}

	data := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		data[k] = v
	}
	if p, ok := vars["purpose"]; ok {
		data["purpose_title"] = FormatPurpose(p)
	}

	var subject, body bytes.Buffer
	if tpl.subject != nil {
		if err := tpl.subject.Execute(&subject, data); err != nil {
			return "", "", fmt.Errorf("render %s subject: %w", templateID, err)
		}
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", templateID, err)
	}
	return subject.String(), body.String(), nil
}
