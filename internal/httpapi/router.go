// Package httpapi mounts the gateway's HTTP surface under SERVER_PREFIX
// using github.com/gorilla/mux, grounded on lookatitude-beluga-ai's REST
// server (mux.NewRouter, path-prefixed subrouter) but trimmed to this
// spec's four routes (spec.md §6).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/lokutor-ai/voicegate/internal/authtoken"
	"github.com/lokutor-ai/voicegate/pkg/billing"
)

// SessionOpener is invoked once per accepted connection on /ws or
// /ws-button; it receives the resolved user id and the live request
// (for transport.Accept) and runs until the session ends.
type SessionOpener func(w http.ResponseWriter, r *http.Request, userID string)

// UploadHandler processes one push-to-talk upload and returns an error
// suitable for surfacing as an HTTP error (spec E6: 400 on malformed or
// empty audio).
type UploadHandler func(ctx context.Context, sessionID, userID string, body []byte) error

// Router wires spec.md §6's four routes onto a *mux.Router.
type Router struct {
	mux        *mux.Router
	verifier   *authtoken.Verifier
	accountant *billing.Accountant

	streaming  SessionOpener
	pushToTalk SessionOpener
	upload     UploadHandler
}

// New builds a Router mounted under prefix (may be empty for root-level
// mounting).
func New(prefix string, verifier *authtoken.Verifier, accountant *billing.Accountant, streaming, pushToTalk SessionOpener, upload UploadHandler) *Router {
	r := &Router{
		mux:        mux.NewRouter(),
		verifier:   verifier,
		accountant: accountant,
		streaming:  streaming,
		pushToTalk: pushToTalk,
		upload:     upload,
	}

	sub := r.mux.PathPrefix(prefix).Subrouter()
	sub.HandleFunc("/ws", r.handleStreaming).Methods(http.MethodGet)
	sub.HandleFunc("/ws-button", r.handlePushToTalk).Methods(http.MethodGet)
	sub.HandleFunc("/api/upload-audio/", r.handleUpload).Methods(http.MethodPost)
	sub.HandleFunc("/api/session-id", r.handleSessionID).Methods(http.MethodGet)

	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// resolveUserID implements spec.md §6's auth fallback: a valid signed
// cookie wins; otherwise a guest id is derived from the client IP.
func (r *Router) resolveUserID(req *http.Request) string {
	cookie, err := req.Cookie("auth_token")
	var tokenValue string
	if err == nil {
		tokenValue = cookie.Value
	}

	userID, err := r.verifier.UserIDFromToken(tokenValue)
	if err == nil {
		return userID
	}
	return authtoken.GuestUserID(req.RemoteAddr)
}

func (r *Router) handleStreaming(w http.ResponseWriter, req *http.Request) {
	userID := r.resolveUserID(req)
	r.provisionGuestIfNeeded(req.Context(), userID)
	r.streaming(w, req, userID)
}

func (r *Router) handlePushToTalk(w http.ResponseWriter, req *http.Request) {
	userID := r.resolveUserID(req)
	r.provisionGuestIfNeeded(req.Context(), userID)
	r.pushToTalk(w, req, userID)
}

func (r *Router) provisionGuestIfNeeded(ctx context.Context, userID string) {
	if r.accountant == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _ = r.accountant.ProvisionGuest(ctx, userID)
}

// handleUpload accepts a multipart WAV upload under the "file" field and
// a "session_id" form field identifying the already-open ws-button
// session to forward the transcript to (spec §6: "multipart field file
// and form field session_id").
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	userID := r.resolveUserID(req)

	if err := req.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "malformed multipart upload", http.StatusBadRequest)
		return
	}
	file, _, err := req.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	body := make([]byte, 0, 64<<10)
	buf := make([]byte, 32<<10)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	if len(body) == 0 {
		http.Error(w, "empty upload", http.StatusBadRequest)
		return
	}

	sessionID := req.FormValue("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id field", http.StatusBadRequest)
		return
	}

	if err := r.upload(req.Context(), sessionID, userID, body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleSessionID mints a fresh session id (spec §6: pre-connect mint),
// rejecting with 403 when the caller's balance is already exhausted.
func (r *Router) handleSessionID(w http.ResponseWriter, req *http.Request) {
	userID := r.resolveUserID(req)
	r.provisionGuestIfNeeded(req.Context(), userID)

	if r.accountant != nil {
		bal, err := r.accountant.CheckBalance(req.Context(), userID)
		if err == nil && bal.Total() <= 0 {
			http.Error(w, billing.ExhaustedMessage, http.StatusForbidden)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"session_id": uuid.New().String()})
}
