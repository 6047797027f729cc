package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestNotifier(t *testing.T, url, secret string) *Notifier {
	t.Helper()
	n, err := NewNotifier(url, secret, zerolog.Nop(),
		WithRetries(2, time.Millisecond),
		WithTimeout(time.Second),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	return n
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"patient.overdue"}`)
	sig := SignPayload(payload, "s3cret")
	if len(sig) != 64 {
		t.Fatalf("expected hex sha256, got %q", sig)
	}
	if !VerifySignature(payload, "s3cret", sig) {
		t.Error("expected signature to verify")
	}
	if !VerifySignature(payload, "s3cret", "sha256="+sig) {
		t.Error("expected prefixed signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("expected wrong secret to fail")
	}
	if VerifySignature([]byte(`{}`), "s3cret", sig) {
		t.Error("expected tampered payload to fail")
	}
}

func TestNewNotifier_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://alerts.example.com", "http://", "::bad"} {
		if _, err := NewNotifier(u, "", zerolog.Nop()); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestNotify_SignsAndDelivers(t *testing.T) {
	var got struct {
		body      []byte
		signature string
		id        string
		timestamp string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.body, _ = io.ReadAll(r.Body)
		got.signature = r.Header.Get(HeaderSignature)
		got.id = r.Header.Get(HeaderID)
		got.timestamp = r.Header.Get(HeaderTimestamp)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "s3cret")
	d, err := n.Notify(context.Background(), "patient.overdue", map[string]interface{}{"token": "B0001", "minutes_in_zone": 42})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if d.Status != "success" || d.StatusCode != http.StatusAccepted || d.Attempts != 1 {
		t.Errorf("unexpected delivery %+v", d)
	}
	if !VerifySignature(got.body, "s3cret", got.signature) {
		t.Errorf("signature %q does not match body", got.signature)
	}
	if got.id != d.AlertID {
		t.Errorf("expected id header %s, got %s", d.AlertID, got.id)
	}
	if got.timestamp != "2026-03-02T09:30:00Z" {
		t.Errorf("unexpected timestamp header %q", got.timestamp)
	}

	var alert Alert
	if err := json.Unmarshal(got.body, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.Type != "patient.overdue" || !alert.Timestamp.Equal(fixedNow) {
		t.Errorf("unexpected alert %+v", alert)
	}
	var data map[string]interface{}
	json.Unmarshal(alert.Data, &data)
	if data["token"] != "B0001" {
		t.Errorf("unexpected alert data %v", data)
	}
}

func TestNotify_UnsignedWithoutSecret(t *testing.T) {
	var signature atomic.Value
	signature.Store("unset")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature.Store(r.Header.Get(HeaderSignature))
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "")
	if _, err := n.Notify(context.Background(), "ping", nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if signature.Load().(string) != "" {
		t.Errorf("expected no signature header, got %q", signature.Load())
	}
}

func TestNotify_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "k")
	d, err := n.Notify(context.Background(), "patient.overdue", nil)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 || d.Attempts != 3 {
		t.Errorf("expected 3 attempts, got calls=%d attempts=%d", calls, d.Attempts)
	}
}

func TestNotify_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad alert"))
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "k")
	d, err := n.Notify(context.Background(), "patient.overdue", nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if d.Status != "failed" || d.StatusCode != http.StatusBadRequest || d.ResponseBody != "bad alert" {
		t.Errorf("unexpected delivery %+v", d)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestDeliveriesNewestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "")
	for _, kind := range []string{"first", "second"} {
		if _, err := n.Notify(context.Background(), kind, nil); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	log := n.Deliveries()
	if len(log) != 2 || log[0].AlertType != "second" || log[1].AlertType != "first" {
		t.Errorf("unexpected log %+v", log)
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := NewHandler(n).ListDeliveries(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var body []Delivery
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(body))
	}
}
