package authz

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/metrics"
	obsmw "github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/middleware"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("authz: invalid token")
	ErrNoSubject    = errors.New("authz: token has no subject")
	ErrNoDevice     = errors.New("authz: token has no device id")
)

type HMACValidator struct {
	secret []byte
	issuer string
}

func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

func (h *HMACValidator) Validate(tokStr string) (Principal, error) {
	token, err := jwt.Parse(tokStr, func(token *jwt.Token) (interface{}, error) {
		// Ensure HS* (HMAC) only
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return h.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	if iss, _ := claims["iss"].(string); iss != "" && h.issuer != "" && iss != h.issuer {
		return Principal{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	return principalFromClaims(claims)
}

func (h *HMACValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("hmac", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())
		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			result = "failure"
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("auth missing bearer", "request_id", reqID)
			return
		}
		principal, err := h.Validate(strings.TrimSpace(raw[len("Bearer "):]))
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("auth invalid token", "error", err, "request_id", reqID)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func principalFromClaims(claims jwt.MapClaims) (Principal, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, ErrNoSubject
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	did, _ := claims["did"].(string)
	if did == "" {
		return Principal{}, ErrNoDevice
	}
	deviceID, err := uuid.Parse(did)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad device id", ErrInvalidToken)
	}
	return Principal{UserID: userID, DeviceID: deviceID}, nil
}

// MintToken signs a short HS256 token for the principal. Development and test
// convenience; production tokens come from the auth collaborator.
func MintToken(secret, issuer string, p Principal) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"sub": p.UserID.String(),
		"did": p.DeviceID.String(),
	})
	return token.SignedString([]byte(secret))
}
