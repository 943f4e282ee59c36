package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"turapp/internal/config"
	"turapp/internal/metrics"
	"turapp/internal/models"
)

type captureMailer struct {
	msgs []*gomail.Message
	err  error
}

func (m *captureMailer) DialAndSend(msgs ...*gomail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

var testEmailConfig = config.EmailConfig{
	SMTPHost:     "smtp.example.com",
	SMTPPort:     587,
	SMTPUser:     "mailer",
	SMTPPassword: "pw",
	FromEmail:    "no-reply@turapp.example",
	FromName:     "TurApp",
}

func TestEmailService_SendsRenderedMessage(t *testing.T) {
	mailer := &captureMailer{}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewEmailServiceWithMailer(mailer, testEmailConfig, models.LanguageEnglish, m, nil)

	res, err := svc.SendVerificationCode(context.Background(), VerificationEmail{
		To:          "user@example.com",
		Code:        "483920",
		DisplayName: "Dana",
		Language:    models.LanguageEnglish,
		Purpose:     models.PurposeTwoFactor,
		ExpiresIn:   10 * time.Minute,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.MessageID)

	require.Len(t, mailer.msgs, 1)
	msg := mailer.msgs[0]
	require.Equal(t, []string{"user@example.com"}, msg.GetHeader("To"))
	require.Equal(t, []string{"Your TurApp sign-in code"}, msg.GetHeader("Subject"))
	require.Equal(t, []string{"<" + res.MessageID + "@turapp.example>"}, msg.GetHeader("Message-ID"))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "483920")
	require.Contains(t, buf.String(), "text/html")

	require.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("two_factor", "sent")))
}

func TestEmailService_ProviderNotConfigured(t *testing.T) {
	cfg := testEmailConfig
	cfg.SMTPPassword = ""
	svc := NewEmailServiceWithMailer(&captureMailer{}, cfg, models.LanguageEnglish, nil, nil)

	_, err := svc.SendVerificationCode(context.Background(), VerificationEmail{
		To: "user@example.com", Code: "123456", Purpose: models.PurposePasswordReset,
	})
	require.ErrorIs(t, err, ErrProviderNotConfigured)

	svc = NewEmailServiceWithMailer(nil, testEmailConfig, models.LanguageEnglish, nil, nil)
	_, err = svc.SendVerificationCode(context.Background(), VerificationEmail{
		To: "user@example.com", Code: "123456", Purpose: models.PurposePasswordReset,
	})
	require.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestEmailService_DeliveryFailureHidesProvider(t *testing.T) {
	mailer := &captureMailer{err: errors.New("550 mailbox unavailable")}
	svc := NewEmailServiceWithMailer(mailer, testEmailConfig, models.LanguageEnglish, nil, nil)

	_, err := svc.SendVerificationCode(context.Background(), VerificationEmail{
		To: "bounce@example.com", Code: "123456", Purpose: models.PurposeTwoFactor,
	})
	require.ErrorIs(t, err, ErrDeliveryFailed)
	require.NotErrorIs(t, err, ErrProviderNotConfigured)
}

func TestEmailService_DryRun(t *testing.T) {
	cfg := config.EmailConfig{DryRun: true}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewEmailServiceWithMailer(nil, cfg, models.LanguageEnglish, m, nil)

	res, err := svc.SendVerificationCode(context.Background(), VerificationEmail{
		To: "user@example.com", Code: "123456", Purpose: models.PurposeTwoFactor,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.MessageID)
	require.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("two_factor", "dry_run")))
}

func TestEmailService_RejectsUnknownPurpose(t *testing.T) {
	svc := NewEmailServiceWithMailer(&captureMailer{}, testEmailConfig, models.LanguageEnglish, nil, nil)
	_, err := svc.SendVerificationCode(context.Background(), VerificationEmail{
		To: "user@example.com", Code: "123456", Purpose: "sms",
	})
	require.Error(t, err)
}

func TestEmailCopies_MatrixIsComplete(t *testing.T) {
	purposes := []models.Purpose{models.PurposeTwoFactor, models.PurposePasswordReset}
	langs := []models.Language{models.LanguageEnglish, models.LanguageRussian}
	subjects := map[string]bool{}

	for _, p := range purposes {
		for _, l := range langs {
			c, ok := emailCopies[copyKey{p, l}]
			require.True(t, ok, "%s/%s", p, l)
			require.NotEmpty(t, c.Subject)
			require.NotEmpty(t, c.Intro)
			require.Contains(t, c.Expiry, "%d")
			require.Contains(t, c.Greeting, "%s")
			require.False(t, subjects[c.Subject], "subject reused: %s", c.Subject)
			subjects[c.Subject] = true
		}
	}
}

func TestRenderEmail(t *testing.T) {
	tests := []struct {
		name     string
		purpose  models.Purpose
		lang     models.Language
		display  string
		subject  string
		greeting string
		expiry   string
	}{
		{"2fa en", models.PurposeTwoFactor, models.LanguageEnglish, "Dana", "Your TurApp sign-in code", "Hi Dana,", "The code expires in 10 minutes."},
		{"reset ru", models.PurposePasswordReset, models.LanguageRussian, "", "Сброс пароля TurApp", "Здравствуйте!", "Код действителен в течение 10 мин."},
		{"unknown language falls back", models.PurposePasswordReset, models.Language("kk"), "Dana", "Reset your TurApp password", "Hi Dana,", "The code expires in 10 minutes."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := renderEmail(tt.purpose, tt.lang, models.LanguageEnglish, "654321", tt.display, 10)
			require.NoError(t, err)
			require.Equal(t, tt.subject, out.Subject)
			require.Contains(t, out.Text, tt.greeting)
			require.Contains(t, out.Text, tt.expiry)
			require.Contains(t, out.Text, "654321")
			require.Contains(t, out.HTML, "654321")
		})
	}
}

func TestRenderEmail_EscapesDisplayName(t *testing.T) {
	out, err := renderEmail(models.PurposeTwoFactor, models.LanguageEnglish, models.LanguageEnglish, "000111", "<script>x</script>", 5)
	require.NoError(t, err)
	require.NotContains(t, out.HTML, "<script>")
	require.Contains(t, out.Text, "<script>x</script>")
}
