package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/voicegate/internal/authtoken"
	"github.com/lokutor-ai/voicegate/pkg/billing"
)

func newTestRouter(t *testing.T) (*Router, *bool, *string) {
	t.Helper()
	verifier := authtoken.NewVerifier("s3cret")
	ledger := billing.NewMemoryLedger()
	accountant := billing.NewAccountant(ledger)

	streamingCalled := false
	var gotUserID string

	r := New("", verifier, accountant,
		func(w http.ResponseWriter, req *http.Request, userID string) {
			streamingCalled = true
			gotUserID = userID
			w.WriteHeader(http.StatusOK)
		},
		func(w http.ResponseWriter, req *http.Request, userID string) {
			w.WriteHeader(http.StatusOK)
		},
		func(ctx context.Context, sessionID, userID string, body []byte) error {
			return nil
		},
	)
	return r, &streamingCalled, &gotUserID
}

func TestSessionIDEndpointMintsUUID(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session-id", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["session_id"] == "" {
		t.Fatal("expected a non-empty session_id")
	}
}

func TestStreamingRouteDerivesGuestUserID(t *testing.T) {
	r, called, gotUserID := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !*called {
		t.Fatal("expected streaming handler to be invoked")
	}
	if *gotUserID != "user_203_0_113_7" {
		t.Fatalf("got %q", *gotUserID)
	}
}

func TestUploadRejectsEmptyAudioField(t *testing.T) {
	r, _, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("file", "empty.wav")
	part.Write(nil)
	w.WriteField("session_id", "sess-1")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload-audio/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestUploadRejectsMissingSessionID(t *testing.T) {
	r, _, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("file", "clip.wav")
	part.Write([]byte{1, 2, 3, 4})
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload-audio/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestUploadAcceptsNonEmptyAudioField(t *testing.T) {
	r, _, _ := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("file", "clip.wav")
	part.Write([]byte{1, 2, 3, 4})
	w.WriteField("session_id", "sess-1")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload-audio/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", rec.Code)
	}
}

func TestSessionIDEndpointRejectsExhaustedBalance(t *testing.T) {
	verifier := authtoken.NewVerifier("s3cret")
	ledger := billing.NewMemoryLedger()
	ledger.Seed("user_203_0_113_7", billing.Balance{})
	accountant := billing.NewAccountant(ledger)

	r := New("", verifier, accountant,
		func(w http.ResponseWriter, req *http.Request, userID string) { w.WriteHeader(http.StatusOK) },
		func(w http.ResponseWriter, req *http.Request, userID string) { w.WriteHeader(http.StatusOK) },
		func(ctx context.Context, sessionID, userID string, body []byte) error { return nil },
	)

	req := httptest.NewRequest(http.MethodGet, "/api/session-id", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", w.Code)
	}
}
