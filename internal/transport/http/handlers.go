package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/authz"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"
	obsmw "github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/middleware"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/relay"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	svc *service.Service
	hub *relay.Hub
}

type registerDeviceRequest struct {
	DeviceID  string `json:"deviceId,omitempty"`
	Handle    string `json:"handle,omitempty"`
	PublicKey string `json:"publicKey"`
	Label     string `json:"label,omitempty"`
}

type deviceResponse struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	PublicKey string     `json:"publicKey"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

func deviceToResponse(d domain.Device) deviceResponse {
	return deviceResponse{
		ID:        d.ID.String(),
		UserID:    d.UserID.String(),
		PublicKey: d.PublicKey,
		Label:     d.Label,
		CreatedAt: d.CreatedAt,
		RevokedAt: d.RevokedAt,
	}
}

func (h *Handler) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFrom(r.Context())
	reqID := obsmw.RequestIDFromContext(r.Context())

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	deviceID := uuid.Nil
	if req.DeviceID != "" {
		parsed, err := uuid.Parse(req.DeviceID)
		if err != nil {
			http.Error(w, "invalid deviceId", http.StatusBadRequest)
			return
		}
		deviceID = parsed
	}
	device, err := h.svc.RegisterDevice(r.Context(), service.RegisterDeviceInput{
		UserID:    principal.UserID,
		Handle:    req.Handle,
		DeviceID:  deviceID,
		PublicKey: req.PublicKey,
		Label:     req.Label,
	})
	if err != nil {
		writeError(w, err)
		slog.Warn("device registration failed", "error", err, "request_id", reqID)
		return
	}
	slog.Info("device registered", "device_id", device.ID, "user_id", device.UserID, "request_id", reqID)
	writeJSON(w, http.StatusCreated, deviceToResponse(device))
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	devices, err := h.svc.ListUserDevices(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceToResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFrom(r.Context())
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	if err := h.svc.RevokeDevice(r.Context(), principal.UserID, deviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type devicePointersResponse struct {
	CurrentDeviceID *string `json:"currentDeviceId"`
	DefaultDeviceID *string `json:"defaultDeviceId"`
}

func (h *Handler) handleGetDevicePointers(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	pointers, err := h.svc.GetDevicePointers(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := devicePointersResponse{}
	if pointers.CurrentDeviceID != nil {
		s := pointers.CurrentDeviceID.String()
		resp.CurrentDeviceID = &s
	}
	if pointers.DefaultDeviceID != nil {
		s := pointers.DefaultDeviceID.String()
		resp.DefaultDeviceID = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

type setDefaultDeviceRequest struct {
	DefaultDeviceID *string `json:"defaultDeviceId"`
}

func (h *Handler) handleSetDefaultDevice(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFrom(r.Context())
	var req setDefaultDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var deviceID *uuid.UUID
	if req.DefaultDeviceID != nil {
		parsed, err := uuid.Parse(*req.DefaultDeviceID)
		if err != nil {
			http.Error(w, "invalid defaultDeviceId", http.StatusBadRequest)
			return
		}
		deviceID = &parsed
	}
	if err := h.svc.SetDefaultDevice(r.Context(), principal.UserID, deviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveConversationRequest struct {
	PeerUserID   string  `json:"peerUserId"`
	PeerDeviceID *string `json:"peerDeviceId,omitempty"`
}

type conversationResponse struct {
	ID                string    `json:"id"`
	CreatedByDeviceID *string   `json:"createdByDeviceId"`
	TargetDeviceID    *string   `json:"targetDeviceId"`
	Participants      []string  `json:"participants"`
	Locked            bool      `json:"locked"`
	CreatedAt         time.Time `json:"createdAt"`
}

func conversationToResponse(c domain.Conversation, viewerDevice uuid.UUID) conversationResponse {
	resp := conversationResponse{
		ID:        c.ID.String(),
		Locked:    c.LockedFor(viewerDevice),
		CreatedAt: c.CreatedAt,
	}
	if c.CreatedByDeviceID != nil {
		s := c.CreatedByDeviceID.String()
		resp.CreatedByDeviceID = &s
	}
	if c.TargetDeviceID != nil {
		s := c.TargetDeviceID.String()
		resp.TargetDeviceID = &s
	}
	for _, id := range c.ParticipantIDs() {
		resp.Participants = append(resp.Participants, id.String())
	}
	return resp
}

func (h *Handler) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFrom(r.Context())
	reqID := obsmw.RequestIDFromContext(r.Context())

	var req resolveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	peerUserID, err := uuid.Parse(req.PeerUserID)
	if err != nil {
		http.Error(w, "invalid peerUserId", http.StatusBadRequest)
		return
	}
	var peerDeviceID *uuid.UUID
	if req.PeerDeviceID != nil {
		parsed, err := uuid.Parse(*req.PeerDeviceID)
		if err != nil {
			http.Error(w, "invalid peerDeviceId", http.StatusBadRequest)
			return
		}
		peerDeviceID = &parsed
	}

	conv, created, err := h.svc.Resolve(r.Context(), service.ResolveInput{
		SelfUserID:   principal.UserID,
		SelfDeviceID: principal.DeviceID,
		PeerUserID:   peerUserID,
		PeerDeviceID: peerDeviceID,
	})
	if err != nil {
		writeError(w, err)
		slog.Warn("conversation resolve failed", "error", err, "request_id", reqID)
		return
	}
	if created {
		// The peer learns about the new conversation without polling.
		h.hub.NotifyConversation(r.Context(), conv)
		slog.Info("conversation created", "conversation_id", conv.ID, "request_id", reqID)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conversationToResponse(*conv, principal.DeviceID))
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFrom(r.Context())
	convs, err := h.svc.ListConversations(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationToResponse(c, principal.DeviceID))
	}
	writeJSON(w, http.StatusOK, out)
}

type messageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderUserID   string     `json:"senderUserId"`
	SenderDeviceID string     `json:"senderDeviceId"`
	Ciphertext     string     `json:"ciphertext"`
	Nonce          string     `json:"nonce,omitempty"`
	SequenceIndex  *int64     `json:"sequenceIndex,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFrom(r.Context())
	convID, err := uuid.Parse(chi.URLParam(r, "convID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			http.Error(w, "invalid before timestamp", http.StatusBadRequest)
			return
		}
		before = parsed
	}
	msgs, err := h.svc.ListMessages(r.Context(), principal.UserID, convID, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:             m.ID.String(),
			ConversationID: m.ConversationID.String(),
			SenderUserID:   m.SenderUserID.String(),
			SenderDeviceID: m.SenderDeviceID.String(),
			Ciphertext:     m.Ciphertext,
			Nonce:          m.Nonce,
			SequenceIndex:  m.SequenceIndex,
			CreatedAt:      m.CreatedAt,
			DeliveredAt:    m.DeliveredAt,
			ReadAt:         m.ReadAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	principal, _ := authz.PrincipalFrom(r.Context())
	convID, err := uuid.Parse(chi.URLParam(r, "convID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	deleted, err := h.svc.DeleteMessages(r.Context(), principal.UserID, convID)
	if err != nil {
		writeError(w, err)
		return
	}
	if conv, err := h.svc.GetConversation(r.Context(), convID); err == nil {
		h.hub.NotifyMessagesDeleted(r.Context(), conv)
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotAuthorized), errors.Is(err, service.ErrDeviceRevoked):
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}
