package application

import (
	"time"

	tpl "github.com/forgestack/auth-api/pkg/mailer/templates"
)

func resetEmail(name, link string, expiresIn time.Duration) (subject, html string) {
	return tpl.ResetPassword(name, link, expiresIn)
}
