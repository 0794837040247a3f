package returners

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	gomail "github.com/go-mail/mail/v2"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

// MailConfig configures an SMTP notification return sink, generalized from
// middlewares/mail.go.
type MailConfig struct {
	Name          string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	TLSSkipVerify bool
	EmailTo       string
	EmailFrom     string
	EmailSubject  string
	OnlyOnError   bool
}

// Mail delivers a JobResult summary by email on job completion.
type Mail struct {
	Config MailConfig
}

func NewMail(cfg MailConfig) *Mail {
	return &Mail{Config: cfg}
}

func (m *Mail) Name() string { return m.Config.Name }

func (m *Mail) Send(ctx context.Context, result domain.JobResult) error {
	if m.Config.OnlyOnError && result.Success {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from())
	msg.SetHeader("To", strings.Split(m.Config.EmailTo, ",")...)
	msg.SetHeader("Subject", m.subject(result))
	msg.SetBody("text/plain", m.body(result))

	js, err := json.MarshalIndent(result, "", "  ")
	if err == nil {
		msg.Attach(fmt.Sprintf("%s.json", result.JobID), gomail.SetCopyFunc(func(w io.Writer) error {
			_, werr := w.Write(js)
			return werr
		}))
	}

	d := gomail.NewDialer(m.Config.SMTPHost, m.Config.SMTPPort, m.Config.SMTPUser, m.Config.SMTPPassword)
	if m.Config.TLSSkipVerify {
		// #nosec G402 -- explicit opt-in via config, same as middlewares/mail.go.
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("mail %q: dial and send: %w", m.Config.Name, err)
	}
	return nil
}

func (m *Mail) from() string {
	if m.Config.EmailFrom != "" {
		return m.Config.EmailFrom
	}
	return "fleetagent@localhost"
}

func (m *Mail) subject(result domain.JobResult) string {
	if m.Config.EmailSubject != "" {
		return m.Config.EmailSubject
	}
	status := "successful"
	if !result.Success {
		status = "failed"
	}
	return fmt.Sprintf("job %s %s: %s", result.JobID, status, result.Function)
}

func (m *Mail) body(result domain.JobResult) string {
	if result.Success {
		return fmt.Sprintf("Job %s (%s) completed successfully.\n\n%v", result.JobID, result.Function, result.Return)
	}
	return fmt.Sprintf("Job %s (%s) failed.\n\n%s", result.JobID, result.Function, result.ErrTraceback)
}

var _ ports.ReturnSink = (*Mail)(nil)
