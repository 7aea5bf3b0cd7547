package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Channel is how a notification is delivered
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// MaxSMSLength is the longest SMS body accepted, in characters
const MaxSMSLength = 1600

// ErrMessageTooLong is returned for SMS bodies over MaxSMSLength
var ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxSMSLength)

// Message is a rendered notification ready to send
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages over one channel
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// StatusError is a non-2xx reply from a gateway
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

// Temporary reports whether the request may succeed if retried
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// SMSConfig configures an HTTP SMS gateway
type SMSConfig struct {
	GatewayURL string
	AccountSID string
	AuthToken  string
	From       string
}

// SMSSender posts messages to a Twilio-style gateway: form-encoded To, From
// and Body with basic auth
type SMSSender struct {
	cfg    SMSConfig
	client *http.Client
}

// NewSMSSender creates an SMS sender. A nil client gets a 10s timeout.
func NewSMSSender(cfg SMSConfig, client *http.Client) *SMSSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSSender{cfg: cfg, client: client}
}

// Send posts msg to the gateway
func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	if utf8.RuneCountInString(msg.Body) > MaxSMSLength {
		return ErrMessageTooLong
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", s.cfg.From)
	form.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// EmailConfig configures an SMTP relay
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendMailFunc matches smtp.SendMail
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender sends plain-text mail through SMTP with PLAIN auth
type EmailSender struct {
	cfg      EmailConfig
	sendMail sendMailFunc
}

// NewEmailSender creates an email sender
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg, sendMail: smtp.SendMail}
}

var errHeaderInjection = errors.New("header value contains a line break")

// Send delivers msg. The context is only checked before dialing; net/smtp
// has no context support.
func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return errHeaderInjection
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.sendMail(addr, auth, s.cfg.From, []string{msg.To}, buildMail(s.cfg.From, msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func buildMail(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
