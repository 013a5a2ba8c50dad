package notify

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

const (
	testFooter      = "This is a user-initiated test alert."
	smtpDialTimeout = 10 * time.Second
)

// EmailNotifier sends alerts over SMTP with STARTTLS. Settings are read
// from config on every send so edits apply without a restart.
type EmailNotifier struct {
	cfg *config.Manager
	log *logger.Logger

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailNotifier(cfg *config.Manager, log *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:      cfg,
		log:      log.Component("email"),
		sendMail: smtp.SendMail,
	}
}

func (e *EmailNotifier) Name() string { return "email" }

type emailSettings struct {
	server   string
	port     int
	username string
	password string
	from     string
	to       []string
}

func (e *EmailNotifier) settings() emailSettings {
	return emailSettings{
		server:   e.cfg.GetString("alerts.email.smtp_server", "smtp.mail.me.com"),
		port:     e.cfg.GetInt("alerts.email.smtp_port", 587),
		username: e.cfg.GetString("alerts.email.username", ""),
		password: e.cfg.GetString("alerts.email.password", ""),
		from:     e.cfg.GetString("alerts.email.from_address", ""),
		to:       e.cfg.GetStringSlice("alerts.email.to_addresses"),
	}
}

// missing returns the names of required settings that are empty.
func (s emailSettings) missing() []string {
	var out []string
	if s.username == "" {
		out = append(out, "username")
	}
	if s.password == "" {
		out = append(out, "password")
	}
	if s.from == "" {
		out = append(out, "from_address")
	}
	if len(s.to) == 0 {
		out = append(out, "to_addresses")
	}
	return out
}

func (e *EmailNotifier) Configured() bool {
	return e.cfg.GetBool("alerts.email_enabled", false) && len(e.settings().missing()) == 0
}

func (e *EmailNotifier) Send(event models.AlertEvent) error {
	s := e.settings()
	if miss := s.missing(); len(miss) > 0 {
		return fmt.Errorf("email: missing settings: %s", strings.Join(miss, ", "))
	}

	subject := "Meshtastic Alert: " + ruleTitle(event.Rule)
	if event.Test {
		subject += " (Test)"
	}

	addr := fmt.Sprintf("%s:%d", s.server, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.server)
	msg := buildMessage(s.from, s.to, subject, e.body(event))

	if err := e.sendMail(addr, auth, s.from, s.to, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	e.log.Info("Alert email sent to %d recipient(s): %s", len(s.to), subject)
	return nil
}

func (e *EmailNotifier) body(event models.AlertEvent) string {
	var b strings.Builder
	b.WriteString("Meshtastic Monitor Alert\n\n")
	fmt.Fprintf(&b, "Node: %s (%s)\n", event.NodeName, event.NodeID)
	fmt.Fprintf(&b, "Rule: %s\n", ruleTitle(event.Rule))
	fmt.Fprintf(&b, "%s\n", event.Message)
	if !event.TriggeredAt.IsZero() {
		fmt.Fprintf(&b, "Triggered: %s\n", event.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if event.Test {
		b.WriteString("\n" + testFooter + "\n")
	}
	return b.String()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// TestConnection verifies settings by connecting, authenticating and
// sending a short test message. The returned error names the failing
// stage so the caller can surface a specific reason instead of a
// generic failure.
func (e *EmailNotifier) TestConnection() error {
	s := e.settings()
	if miss := s.missing(); len(miss) > 0 {
		return fmt.Errorf("email: missing settings: %s", strings.Join(miss, ", "))
	}

	addr := fmt.Sprintf("%s:%d", s.server, s.port)
	conn, err := net.DialTimeout("tcp", addr, smtpDialTimeout)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.server)
	if err != nil {
		return fmt.Errorf("smtp handshake with %s failed: %w", addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.server}); err != nil {
			return fmt.Errorf("starttls with %s failed: %w", s.server, err)
		}
	}
	if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.server)); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	msg := buildMessage(s.from, s.to, "Meshtastic Alert: Test",
		"Test email from the mesh monitor.\n\n"+testFooter+"\n")
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("failed to send test message: %w", err)
	}
	for _, rcpt := range s.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s rejected: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to send test message: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to send test message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send test message: %w", err)
	}
	return client.Quit()
}
