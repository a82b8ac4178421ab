package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fidelio/fidelio/internal/infra"
)

const (
	// KindOTP is a one-time login code.
	KindOTP = "otp"
)

// Message describes a notification payload. Body may carry a secret and must
// never be logged above debug level.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger instead of delivering
// them. Development only.
type LoggerNotifier struct {
	logger *slog.Logger
}

func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", slog.String("kind", message.Kind), slog.String("destination", mask(message.Destination)))
	n.logger.DebugContext(ctx, "notification body", slog.String("destination", message.Destination), slog.String("body", message.Body))
	return nil
}

// TwilioNotifier sends SMS through the Twilio Messages REST API behind a
// circuit breaker.
type TwilioNotifier struct {
	accountSID string
	authToken  string
	from       string
	endpoint   string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewTwilioNotifier(sid, token, from string, logger *slog.Logger) *TwilioNotifier {
	return &TwilioNotifier{
		accountSID: sid,
		authToken:  token,
		from:       from,
		endpoint:   fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", sid),
		client:     &http.Client{Timeout: 10 * time.Second},
		breaker:    infra.NewBreaker("twilio", 5, 30*time.Second, logger),
		logger:     logger,
	}
}

func (t *TwilioNotifier) Send(ctx context.Context, message Message) error {
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.post(ctx, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("sms provider unavailable: %w", err)
	}
	return err
}

func (t *TwilioNotifier) post(ctx context.Context, message Message) error {
	form := url.Values{}
	form.Set("To", message.Destination)
	form.Set("From", t.from)
	form.Set("Body", message.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Warn("twilio send failed", slog.Int("status", resp.StatusCode), slog.String("destination", mask(message.Destination)))
		return fmt.Errorf("twilio send failed status=%d", resp.StatusCode)
	}
	return nil
}

// mask keeps the last four characters of a destination.
func mask(dest string) string {
	if len(dest) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(dest)-4) + dest[len(dest)-4:]
}
