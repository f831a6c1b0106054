package http

import (
	"net/http"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/relay"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	obsmw "github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/middleware"
)

// NewRouter wires the collaborator REST surface and the WebSocket endpoint.
// authMW must populate the request principal; ws handles its own credential
// because browser WebSocket clients cannot set headers.
func NewRouter(svc *service.Service, hub *relay.Hub, ws http.Handler, authMW func(http.Handler) http.Handler, corsOrigins []string) http.Handler {
	h := &Handler{svc: svc, hub: hub}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(obsmw.WithMetrics)
	r.Use(httprate.LimitByIP(300, 1*time.Minute))

	c := cors.Options{
		AllowedOrigins:   originsIfSet(corsOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(c))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Handle("/ws", ws)

	r.Group(func(pr chi.Router) {
		pr.Use(authMW)

		pr.Post("/devices", h.handleRegisterDevice)
		pr.Get("/users/{userID}/devices", h.handleListDevices)
		pr.Post("/devices/{deviceID}/revoke", h.handleRevokeDevice)

		pr.Get("/users/{userID}/device-pointers", h.handleGetDevicePointers)
		pr.Put("/users/me/device-pointers", h.handleSetDefaultDevice)

		pr.Post("/conversations", h.handleResolveConversation)
		pr.Get("/conversations", h.handleListConversations)
		pr.Get("/conversations/{convID}/messages", h.handleListMessages)
		pr.Delete("/conversations/{convID}/messages", h.handleDeleteMessages)
	})

	return r
}

func originsIfSet(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
