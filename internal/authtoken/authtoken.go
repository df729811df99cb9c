// Package authtoken verifies the HS256 signed-token cookie spec.md §6
// describes (nested data.user_id claim) and derives a deterministic
// guest user id from client IP when no valid token is present, grounded
// on BaSui01-agentflow's jwt/v5 HS256 verification pattern.
package authtoken

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no cookie value was supplied at all,
// distinguishing "no attempt" from "invalid attempt" for callers that
// want to log differently.
var ErrNoToken = errors.New("authtoken: no token supplied")

// claims models the nested {"data": {"user_id": "..."}} shape produced
// by the upstream auth service.
type claims struct {
	Data struct {
		UserID string `json:"user_id"`
	} `json:"data"`
	jwt.RegisteredClaims
}

// Verifier validates the signed-token cookie against one HS256 secret.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier over the given HMAC secret (spec.md
// §6's JWT_secret configuration value).
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// UserIDFromToken verifies tokenString and extracts data.user_id. An
// empty tokenString returns ErrNoToken; a present-but-invalid token
// returns a wrapped jwt error — callers fall back to GuestUserID in
// either case per spec.md §6.
func (v *Verifier) UserIDFromToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrNoToken
	}

	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authtoken: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("authtoken: invalid token: %w", err)
	}
	if c.Data.UserID == "" {
		return "", fmt.Errorf("authtoken: token missing data.user_id claim")
	}
	return c.Data.UserID, nil
}

// GuestUserID deterministically derives a guest user id from a client
// address as returned by net/http's Request.RemoteAddr or a forwarded-for
// header value (spec.md E4: "203.0.113.7" -> "user_203_0_113_7").
func GuestUserID(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	sanitized := strings.ReplaceAll(host, ".", "_")
	sanitized = strings.ReplaceAll(sanitized, ":", "_")
	return "user_" + sanitized
}
