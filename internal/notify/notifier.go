package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lifeline/pkg/interfaces"
)

// SMSNotifier delivers messages through a Twilio-style REST gateway.
// Delivery is best-effort: callers fire-and-forget, failures are
// logged and never retried.
type SMSNotifier struct {
	endpoint   string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
	logger     *zap.Logger
}

// NewSMSNotifier builds a gateway-backed notifier.
func NewSMSNotifier(endpoint, accountSID, authToken, from string, logger *zap.Logger) *SMSNotifier {
	return &SMSNotifier{
		endpoint:   endpoint,
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Send posts one message to the gateway.
func (n *SMSNotifier) Send(ctx context.Context, to, body string) error {
	form := url.Values{
		"From": {n.from},
		"To":   {to},
		"Body": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.accountSID, n.authToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	n.logger.Info("sms sent", zap.String("to", to))
	return nil
}

// LogNotifier writes the message to the log instead of sending it.
// Used whenever the gateway is unconfigured, so development setups
// still show exactly what a guardian would have received.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds the log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message.
func (n *LogNotifier) Send(ctx context.Context, to, body string) error {
	n.logger.Info("sms not sent (gateway unconfigured)",
		zap.String("to", to),
		zap.String("body", body))
	return nil
}

// InstrumentedNotifier counts delivery failures. Wrapped around the
// concrete notifier at wiring time so callers stay metric-unaware.
type InstrumentedNotifier struct {
	inner    interfaces.Notifier
	failures prometheus.Counter
}

// NewInstrumentedNotifier wraps a notifier with a failure counter.
func NewInstrumentedNotifier(inner interfaces.Notifier, failures prometheus.Counter) *InstrumentedNotifier {
	return &InstrumentedNotifier{inner: inner, failures: failures}
}

// Send delegates and records a failure when delivery errors.
func (n *InstrumentedNotifier) Send(ctx context.Context, to, body string) error {
	err := n.inner.Send(ctx, to, body)
	if err != nil {
		n.failures.Inc()
	}
	return err
}
