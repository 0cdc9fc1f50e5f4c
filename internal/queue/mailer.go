package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Mailer 投递一条通知。
type Mailer interface {
	Send(ctx context.Context, t Task) error
}

// LogMailer 只把邮件内容写进日志。
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log.With().Str("component", "mailer").Logger()}
}

func (m *LogMailer) Send(_ context.Context, t Task) error {
	subject, body := Compose(t)
	m.log.Info().Str("to", t.Email).Str("subject", subject).Str("body", body).Msg("mail")
	return nil
}

// Compose 生成邮件标题与正文。
func Compose(t Task) (subject, body string) {
	switch t.Kind {
	case KindWelcome:
		return "Welcome to Clay Shop", fmt.Sprintf("Hello %s, thank you for registering.", t.Name)
	case KindVerification:
		return "Verify your email", fmt.Sprintf("Hello %s, confirm your email address: %s", t.Name, t.Link)
	case KindPasswordReset:
		return "Password reset", fmt.Sprintf("Hello %s, reset your password here: %s\nThe link expires in 24 hours.", t.Name, t.Link)
	case KindOrderPlaced:
		return fmt.Sprintf("Order #%d received", t.OrderID), fmt.Sprintf("Hello %s, we received your order #%d.", t.Name, t.OrderID)
	}
	return string(t.Kind), ""
}
