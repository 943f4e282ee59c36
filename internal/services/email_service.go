package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"turapp/internal/config"
	"turapp/internal/metrics"
	"turapp/internal/models"
)

// Mailer is the part of *gomail.Dialer the service needs.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

type VerificationEmail struct {
	To          string
	Code        string
	DisplayName string
	Language    models.Language
	Purpose     models.Purpose
	ExpiresIn   time.Duration
}

type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
}

type EmailService interface {
	SendVerificationCode(ctx context.Context, msg VerificationEmail) (*SendResult, error)
}

type emailService struct {
	mailer      Mailer
	from        string
	fromName    string
	configured  bool
	dryRun      bool
	defaultLang models.Language
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewEmailService(cfg config.EmailConfig, defaultLang models.Language, m *metrics.Metrics, log *zap.Logger) EmailService {
	var mailer Mailer
	if cfg.SMTPHost != "" {
		mailer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	}
	return NewEmailServiceWithMailer(mailer, cfg, defaultLang, m, log)
}

// NewEmailServiceWithMailer lets tests plug a fake transport.
func NewEmailServiceWithMailer(mailer Mailer, cfg config.EmailConfig, defaultLang models.Language, m *metrics.Metrics, log *zap.Logger) EmailService {
	if log == nil {
		log = zap.NewNop()
	}
	configured := mailer != nil && cfg.FromEmail != "" && (cfg.SMTPUser == "" || cfg.SMTPPassword != "")
	return &emailService{
		mailer:      mailer,
		from:        cfg.FromEmail,
		fromName:    cfg.FromName,
		configured:  configured,
		dryRun:      cfg.DryRun,
		defaultLang: defaultLang,
		metrics:     m,
		log:         log,
	}
}

func (s *emailService) SendVerificationCode(ctx context.Context, msg VerificationEmail) (*SendResult, error) {
	if !msg.Purpose.Valid() {
		return nil, fmt.Errorf("send verification code: unknown purpose %q", msg.Purpose)
	}
	if strings.TrimSpace(msg.To) == "" || msg.Code == "" {
		return nil, fmt.Errorf("send verification code: recipient and code are required")
	}

	minutes := int(math.Ceil(msg.ExpiresIn.Minutes()))
	rendered, err := renderEmail(msg.Purpose, msg.Language, s.defaultLang, msg.Code, msg.DisplayName, minutes)
	if err != nil {
		return nil, err
	}
	messageID := uuid.NewString()

	// DRY-RUN: письмо не отправляем, только логируем
	if s.dryRun {
		s.log.Info("[email][dry-run] verification email",
			zap.String("purpose", string(msg.Purpose)),
			zap.String("language", string(msg.Language)),
			zap.String("message_id", messageID),
		)
		s.metrics.IncEmail(string(msg.Purpose), "dry_run")
		return &SendResult{Success: true, MessageID: messageID}, nil
	}

	if !s.configured {
		s.log.Error("[email] provider not configured")
		s.metrics.IncEmail(string(msg.Purpose), "not_configured")
		return nil, ErrProviderNotConfigured
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetAddressHeader("From", s.from, s.fromName)
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", rendered.Subject)
	m.SetHeader("Message-ID", "<"+messageID+"@"+domainOf(s.from)+">")
	m.SetBody("text/plain", rendered.Text)
	m.AddAlternative("text/html", rendered.HTML)

	if err := s.mailer.DialAndSend(m); err != nil {
		s.log.Error("[email] delivery failed",
			zap.String("purpose", string(msg.Purpose)),
			zap.String("to", msg.To),
			zap.Error(err),
		)
		s.metrics.IncEmail(string(msg.Purpose), "failed")
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.metrics.IncEmail(string(msg.Purpose), "sent")
	return &SendResult{Success: true, MessageID: messageID}, nil
}

func domainOf(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 && at < len(addr)-1 {
		return addr[at+1:]
	}
	return "localhost"
}
