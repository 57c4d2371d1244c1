package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const defaultSMTPTimeout = 10 * time.Second

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// SMTPSender delivers codes through an authenticated SMTP relay.
type SMTPSender struct {
	client *mail.Client
	from   string
	logger *zap.Logger
}

// NewSMTPSender builds a sender. The connection is opened per message.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("mailer: smtp host required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, fmt.Errorf("mailer: sender address required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}

	options := []mail.Option{
		mail.WithTimeout(timeout),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if cfg.Port > 0 {
		options = append(options, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(host, options...)
	if err != nil {
		return nil, fmt.Errorf("mailer: configure smtp client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{client: client, from: from, logger: logger}, nil
}

func (s *SMTPSender) SendCode(ctx context.Context, email, code string) error {
	message, err := buildCodeMessage(s.from, email, code)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if err := s.client.DialAndSendWithContext(ctx, message); err != nil {
		s.logger.Warn("smtp delivery failed", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func buildCodeMessage(from, to, code string) (*mail.Msg, error) {
	message := mail.NewMsg()
	if err := message.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := message.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	message.Subject(codeSubject)
	message.SetBodyString(mail.TypeTextPlain, codeBody(code))
	return message, nil
}
