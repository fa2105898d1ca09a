package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/psyrehab/rehab/internal/platform/notification"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"goal.achieved"}`)
	sig := SignPayload(payload, "s3cret")
	if !VerifySignature(payload, "s3cret", sig) {
		t.Error("expected signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("expected signature mismatch for another secret")
	}
	if VerifySignature([]byte(`{}`), "s3cret", sig) {
		t.Error("expected signature mismatch for another payload")
	}
}

func TestNewSink_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com/hook", "/relative"} {
		if _, err := NewSink([]string{raw}, "s"); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestSink_Deliver(t *testing.T) {
	var mu sync.Mutex
	var got []*http.Request
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, r)
		bodies = append(bodies, b)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewSink([]string{srv.URL + "/a", srv.URL + "/b"}, "s3cret", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event := notification.Event{ID: "evt-1", Type: notification.EventGoalAchieved, PatientID: "p-1"}
	if err := sink.Deliver(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	for i, r := range got {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get(EventHeader) != string(notification.EventGoalAchieved) {
			t.Errorf("event header = %q", r.Header.Get(EventHeader))
		}
		sig := strings.TrimPrefix(r.Header.Get(SignatureHeader), "sha256=")
		if !VerifySignature(bodies[i], "s3cret", sig) {
			t.Error("signature does not match body")
		}
		var e notification.Event
		if err := json.Unmarshal(bodies[i], &e); err != nil || e.ID != "evt-1" {
			t.Errorf("unexpected body %s: %v", bodies[i], err)
		}
	}
}

func TestSink_DeliverFailureContinues(t *testing.T) {
	var okHits int
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		okHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	sink, err := NewSink([]string{bad.URL, good.URL}, "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = sink.Deliver(context.Background(), notification.Event{Type: notification.EventCascadeOffered})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected non-2xx error, got %v", err)
	}
	if okHits != 1 {
		t.Errorf("expected the second endpoint to be called once, got %d", okHits)
	}
}
