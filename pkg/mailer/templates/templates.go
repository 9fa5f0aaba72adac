package templates

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Template names accepted in email jobs.
const (
	ResetPasswordTemplate = "reset_password"
	WelcomeTemplate       = "welcome"
)

var resetPasswordTpl = template.Must(template.New(ResetPasswordTemplate).Parse(`
<h1>Reset your password</h1>
<p>Hi {{.Name}},</p>
<p>You requested a password reset. Click the link below to choose a new password:</p>
<p><a href="{{.Link}}" style="display: inline-block; padding: 10px 20px; background-color: #4F46E5; color: white; text-decoration: none; border-radius: 5px;">Reset my password</a></p>
<p>This link expires in {{.ExpiresIn}}.</p>
<p>If you did not request this reset, you can ignore this email.</p>
`))

var welcomeTpl = template.Must(template.New(WelcomeTemplate).Parse(`
<h1>Welcome aboard</h1>
<p>Hi {{.Name}},</p>
<p>Your account is ready. You can sign in with your email address at any time.</p>
`))

type ResetPasswordData struct {
	Name      string
	Link      string
	ExpiresIn string
}

// ResetPassword renders the password-reset email.
func ResetPassword(name, link string, expiresIn time.Duration) (subject, html string) {
	var b strings.Builder
	_ = resetPasswordTpl.Execute(&b, ResetPasswordData{
		Name:      name,
		Link:      link,
		ExpiresIn: humanDuration(expiresIn),
	})
	return "Reset your password", b.String()
}

// Welcome renders the post-registration email.
func Welcome(name string) (subject, html string) {
	var b strings.Builder
	_ = welcomeTpl.Execute(&b, struct{ Name string }{Name: name})
	return "Welcome aboard", b.String()
}

// Render renders a named template from loosely typed job data. Used by the
// email worker for jobs that carry a template name instead of raw HTML.
func Render(name string, data map[string]any) (subject, html string, err error) {
	str := func(key string) string { return fmt.Sprintf("%v", data[key]) }
	switch name {
	case ResetPasswordTemplate:
		d, _ := time.ParseDuration(str("ExpiresIn"))
		subject, html = ResetPassword(str("Name"), str("Link"), d)
		return subject, html, nil
	case WelcomeTemplate:
		subject, html = Welcome(str("Name"))
		return subject, html, nil
	default:
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "a few minutes"
	}
	if d < time.Hour {
		m := int(d.Round(time.Minute) / time.Minute)
		if m <= 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	h := int(d.Round(time.Hour) / time.Hour)
	if h == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", h)
}
