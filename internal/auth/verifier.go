// Package auth verifies connection credentials. Session issuance lives
// in the main platform API; the messaging core only validates the
// bearer token it is handed and resolves it to a principal.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no authentication token provided")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier validates JWT bearer credentials against the signing secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// ExtractToken pulls the credential from a request. Precedence: the
// httpOnly "token" cookie, then the Authorization header, then the
// "token" query parameter (the handshake auth field of browser clients,
// which cannot set headers on a WebSocket upgrade).
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return auth
	}

	return r.URL.Query().Get("token")
}

// Verify validates the token signature and expiry and returns the
// authenticated principal's user ID.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return "", fmt.Errorf("%w: missing expiration", ErrInvalidToken)
	}
	if time.Unix(int64(exp), 0).Before(time.Now()) {
		return "", fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: invalid user_id claim", ErrInvalidToken)
	}

	return userID, nil
}

// VerifyRequest extracts and validates the credential carried by r.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	return v.Verify(ExtractToken(r))
}

// IssueToken mints a token for userID. Used by the seeder and tests;
// production tokens come from the platform's auth service, signed with
// the same secret.
func (v *Verifier) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}
