package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/authz"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/metrics"

	"github.com/gorilla/websocket"
)

// Gateway upgrades authenticated HTTP requests into relay sessions. A failed
// credential drops the connection before any state is created.
type Gateway struct {
	hub       *Hub
	validator authz.TokenValidator
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func NewGateway(hub *Hub, validator authz.TokenValidator, allowedOrigins []string, logger *slog.Logger) *Gateway {
	g := &Gateway{hub: hub, validator: validator, logger: logger}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		metrics.AuthenticationAttemptsTotal.WithLabelValues("ws", "failure").Inc()
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	principal, err := g.validator.Validate(token)
	if err != nil {
		metrics.AuthenticationAttemptsTotal.WithLabelValues("ws", "failure").Inc()
		http.Error(w, "invalid token", http.StatusUnauthorized)
		g.logger.Warn("ws auth failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	metrics.AuthenticationAttemptsTotal.WithLabelValues("ws", "success").Inc()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("ws upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	// The request context dies when this handler returns; the session outlives
	// it on the hijacked connection.
	ctx := context.Background()
	s := newSession(g.hub, conn, principal.UserID, principal.DeviceID, g.logger)
	g.hub.Register(ctx, s)
	go s.writePump()
	go s.readPump(ctx)
}

// bearerToken pulls the credential from the Authorization header or, for
// browser clients that cannot set headers on a WebSocket, the token query
// parameter.
func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}
