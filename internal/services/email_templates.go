package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"turapp/internal/models"
)

// emailCopy is the full wording of one (purpose, language) cell.
type emailCopy struct {
	Subject  string
	Greeting string // %s = display name
	Hello    string // used when there is no display name
	Intro    string
	Expiry   string // %d = minutes
	Ignore   string
	Signoff  string
}

type copyKey struct {
	Purpose  models.Purpose
	Language models.Language
}

var emailCopies = map[copyKey]emailCopy{
	{models.PurposeTwoFactor, models.LanguageEnglish}: {
		Subject:  "Your TurApp sign-in code",
		Greeting: "Hi %s,",
		Hello:    "Hi,",
		Intro:    "Use this code to finish signing in to TurApp:",
		Expiry:   "The code expires in %d minutes.",
		Ignore:   "If you did not try to sign in, change your password right away.",
		Signoff:  "The TurApp team",
	},
	{models.PurposeTwoFactor, models.LanguageRussian}: {
		Subject:  "Код для входа в TurApp",
		Greeting: "Здравствуйте, %s!",
		Hello:    "Здравствуйте!",
		Intro:    "Введите этот код, чтобы завершить вход в TurApp:",
		Expiry:   "Код действителен в течение %d мин.",
		Ignore:   "Если вы не пытались войти, срочно смените пароль.",
		Signoff:  "Команда TurApp",
	},
	{models.PurposePasswordReset, models.LanguageEnglish}: {
		Subject:  "Reset your TurApp password",
		Greeting: "Hi %s,",
		Hello:    "Hi,",
		Intro:    "We received a request to reset your TurApp password. Your code:",
		Expiry:   "The code expires in %d minutes.",
		Ignore:   "If you did not request a reset, you can ignore this email.",
		Signoff:  "The TurApp team",
	},
	{models.PurposePasswordReset, models.LanguageRussian}: {
		Subject:  "Сброс пароля TurApp",
		Greeting: "Здравствуйте, %s!",
		Hello:    "Здравствуйте!",
		Intro:    "Мы получили запрос на сброс пароля TurApp. Ваш код:",
		Expiry:   "Код действителен в течение %d мин.",
		Ignore:   "Если вы не запрашивали сброс, просто проигнорируйте это письмо.",
		Signoff:  "Команда TurApp",
	},
}

type renderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

type templateData struct {
	Greeting string
	Intro    string
	Code     string
	Expiry   string
	Ignore   string
	Signoff  string
}

var htmlLayout = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1d1d1f;">
  <p>{{.Greeting}}</p>
  <p>{{.Intro}}</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>{{.Expiry}}</p>
  <p style="color: #6e6e73;">{{.Ignore}}</p>
  <p>{{.Signoff}}</p>
</body>
</html>`))

var textLayout = texttemplate.Must(texttemplate.New("text").Parse(`{{.Greeting}}

{{.Intro}}

    {{.Code}}

{{.Expiry}}
{{.Ignore}}

{{.Signoff}}
`))

// renderEmail falls back to fallback language when the requested one has
// no copy for the purpose.
func renderEmail(purpose models.Purpose, lang, fallback models.Language, code, displayName string, expiresInMinutes int) (renderedEmail, error) {
	c, ok := emailCopies[copyKey{purpose, lang}]
	if !ok {
		c, ok = emailCopies[copyKey{purpose, fallback}]
	}
	if !ok {
		return renderedEmail{}, fmt.Errorf("no email copy for purpose %q", purpose)
	}

	data := templateData{
		Greeting: c.Hello,
		Intro:    c.Intro,
		Code:     code,
		Expiry:   fmt.Sprintf(c.Expiry, expiresInMinutes),
		Ignore:   c.Ignore,
		Signoff:  c.Signoff,
	}
	if name := strings.TrimSpace(displayName); name != "" {
		data.Greeting = fmt.Sprintf(c.Greeting, name)
	}

	var html, text bytes.Buffer
	if err := htmlLayout.Execute(&html, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render html: %w", err)
	}
	if err := textLayout.Execute(&text, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render text: %w", err)
	}
	return renderedEmail{Subject: c.Subject, HTML: html.String(), Text: text.String()}, nil
}
