package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/metrics"
	obsmw "github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/middleware"

	"github.com/MicahParks/keyfunc"
	jwtv4 "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// JWKSValidator verifies asymmetric tokens against the auth collaborator's
// published key set. Used when no shared HS256 secret is configured.
type JWKSValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWKSValidator(ctx context.Context, jwksURL, issuer string) (*JWKSValidator, error) {
	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Minute * 15,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, err
	}
	return &JWKSValidator{jwks: jwks, issuer: issuer}, nil
}

func (j *JWKSValidator) Validate(tokStr string) (Principal, error) {
	token, err := jwtv4.Parse(tokStr, j.jwks.Keyfunc)
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwtv4.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	if iss, _ := claims["iss"].(string); iss != "" && j.issuer != "" && iss != j.issuer {
		return Principal{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
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

func (j *JWKSValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("jwks", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())
		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			result = "failure"
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("jwks auth missing bearer", "request_id", reqID)
			return
		}
		principal, err := j.Validate(strings.TrimSpace(raw[len("Bearer "):]))
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("jwks auth invalid token", "error", err, "request_id", reqID)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}
