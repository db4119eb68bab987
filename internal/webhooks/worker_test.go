package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"facloc/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}
type markRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type failRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	body := []byte(`{"id":"evt1"}`)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", "solve.completed", srv.URL, "secret", body)
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotType != "solve.completed" {
		t.Fatalf("missing event type header: %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature does not verify: sig=%q body=%q", gotSig, gotBody)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 2}
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", "dataset.created", srv.URL, "", []byte(`{}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// first attempt schedules a retry
	w.processOnce()
	if len(rs.marks) != 1 || rs.marks[0].Success {
		t.Fatalf("expected one failed mark, got: %+v", rs.marks)
	}

	// force the retry due now, second attempt dead-letters
	_ = rs.Memory.RetryWebhookDelivery(context.Background(), "t1", id)
	w.processOnce()
	if len(rs.fails) != 1 || rs.fails[0].ID != id {
		t.Fatalf("expected DLQ fail, got: %+v", rs.fails)
	}
	dlq, err := rs.Memory.ListWebhookDLQ(context.Background(), "t1")
	if err != nil || len(dlq) != 1 {
		t.Fatalf("expected one DLQ entry: %v %d", err, len(dlq))
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := SignHMAC("s3cret", body)
	if !VerifyHMAC("s3cret", body, sig) {
		t.Fatalf("signature should verify")
	}
	if VerifyHMAC("other", body, sig) {
		t.Fatalf("wrong secret should not verify")
	}
	if VerifyHMAC("s3cret", []byte(`{}`), sig) {
		t.Fatalf("altered body should not verify")
	}
}
