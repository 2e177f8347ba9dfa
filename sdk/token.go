package sdk

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiresAt returns the expiry timestamp encoded in a JWT credential,
// if present.
//
// The signature is not verified. The result is only used for client control
// flow such as failing fast before a doomed connect; server-side verification
// remains the source of truth.
func tokenExpiresAt(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// isTokenExpiringSoon reports whether a credential is already expired or will
// expire within the given window.
func isTokenExpiringSoon(token string, window time.Duration) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return true, fmt.Errorf("token is empty")
	}
	exp, ok := tokenExpiresAt(token)
	if !ok {
		// Without a parseable exp the server is authoritative; it rejects the
		// handshake if the credential is bad.
		return false, nil
	}
	return time.Until(exp) <= window, nil
}
