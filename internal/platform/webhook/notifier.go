package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Header names carried on every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Alert is the JSON body POSTed to the alert endpoint.
type Alert struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Delivery records the outcome of one alert.
type Delivery struct {
	AlertID      string        `json:"alert_id"`
	AlertType    string        `json:"alert_type"`
	Status       string        `json:"status"`
	StatusCode   int           `json:"status_code,omitempty"`
	Attempts     int           `json:"attempts"`
	Error        string        `json:"error,omitempty"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	CreatedAt    time.Time     `json:"created_at"`
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of payload
// under secret. A "sha256=" prefix is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithRetries sets how many times a failed delivery is retried and the
// initial wait between attempts.
func WithRetries(count int, wait time.Duration) Option {
	return func(n *Notifier) {
		n.client.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(wait * 8)
	}
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.client.SetTimeout(d) }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

const maxDeliveryLog = 100

// Notifier POSTs signed alerts to a single configured endpoint. Transport
// errors and 5xx responses are retried.
type Notifier struct {
	client *resty.Client
	url    string
	secret string
	now    func() time.Time
	logger zerolog.Logger

	mu         sync.Mutex
	deliveries []*Delivery
}

// NewNotifier validates endpoint and returns a Notifier for it.
func NewNotifier(endpoint, secret string, logger zerolog.Logger, opts ...Option) (*Notifier, error) {
	if err := validateURL(endpoint); err != nil {
		return nil, err
	}
	n := &Notifier{
		client: resty.New().
			SetTimeout(10*time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(1*time.Second).
			SetRetryMaxWaitTime(30*time.Second).
			SetHeader("Content-Type", "application/json").
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			}),
		url:    endpoint,
		secret: secret,
		now:    time.Now,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url must include a host")
	}
	return nil
}

// Notify sends an alert of type kind carrying data. The returned Delivery is
// also kept in the in-memory delivery log.
func (n *Notifier) Notify(ctx context.Context, kind string, data interface{}) (*Delivery, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode alert data: %w", err)
	}
	now := n.now().UTC()
	alert := Alert{ID: uuid.New().String(), Type: kind, Timestamp: now, Data: raw}
	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("encode alert: %w", err)
	}

	d := &Delivery{AlertID: alert.ID, AlertType: kind, Status: "pending", CreatedAt: now}
	req := n.client.R().
		SetContext(ctx).
		SetHeader(HeaderID, alert.ID).
		SetHeader(HeaderTimestamp, now.Format(time.RFC3339)).
		SetBody(payload)
	if n.secret != "" {
		req.SetHeader(HeaderSignature, "sha256="+SignPayload(payload, n.secret))
	}

	resp, err := req.Post(n.url)
	d.Attempts = 1
	if resp != nil {
		d.Duration = resp.Time()
		d.StatusCode = resp.StatusCode()
		if resp.Request != nil && resp.Request.Attempt > 0 {
			d.Attempts = resp.Request.Attempt
		}
		body := resp.Body()
		if len(body) > 1024 {
			body = body[:1024]
		}
		d.ResponseBody = string(body)
	}

	switch {
	case err != nil:
		d.Status = "failed"
		d.Error = err.Error()
	case d.StatusCode < 200 || d.StatusCode >= 300:
		d.Status = "failed"
		d.Error = fmt.Sprintf("non-2xx response: %d", d.StatusCode)
	default:
		d.Status = "success"
	}
	n.record(d)

	if d.Status != "success" {
		n.logger.Error().Str("alert_id", d.AlertID).Str("type", kind).
			Int("status_code", d.StatusCode).Int("attempts", d.Attempts).Msg(d.Error)
		return d, fmt.Errorf("deliver alert %s: %s", d.AlertID, d.Error)
	}
	n.logger.Debug().Str("alert_id", d.AlertID).Str("type", kind).
		Int("attempts", d.Attempts).Dur("duration", d.Duration).Msg("alert delivered")
	return d, nil
}

func (n *Notifier) record(d *Delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	if len(n.deliveries) > maxDeliveryLog {
		n.deliveries = n.deliveries[len(n.deliveries)-maxDeliveryLog:]
	}
}

// Deliveries returns the most recent deliveries, newest first.
func (n *Notifier) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, 0, len(n.deliveries))
	for i := len(n.deliveries) - 1; i >= 0; i-- {
		out = append(out, *n.deliveries[i])
	}
	return out
}

// Handler exposes the delivery log.
type Handler struct {
	notifier *Notifier
}

func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/alerts/deliveries", h.ListDeliveries)
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	return c.JSON(http.StatusOK, h.notifier.Deliveries())
}
