package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/broker"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/observability/metrics"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/presence"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/service"

	"github.com/google/uuid"
)

// Conn is one live client connection as the hub sees it. Enqueue must not
// block: it reports false when the connection's outbound queue is full, which
// the hub treats as a dead connection.
type Conn interface {
	presence.Conn
	UserID() uuid.UUID
	DeviceID() uuid.UUID
	Enqueue(Frame) bool
}

// Envelopes crossing the broker. Participant user ids travel with the event so
// the receiving instance can fan out without a database round trip.
type messageEvent struct {
	Participants []string       `json:"participants"`
	Message      MessagePayload `json:"message"`
}

type readEvent struct {
	Participants []string  `json:"participants"`
	MessageID    string    `json:"messageId"`
	ReadAt       time.Time `json:"readAt"`
}

type presenceEvent struct {
	UserID string `json:"userId"`
	State  string `json:"state"`
}

type conversationEvent struct {
	Participants []string            `json:"participants"`
	Conversation ConversationPayload `json:"conversation"`
}

type deletedEvent struct {
	Participants   []string `json:"participants"`
	ConversationID string   `json:"conversationId"`
}

type friendEvent struct {
	Targets []string        `json:"targets"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Hub owns this instance's fan-out: it tracks local connections through the
// presence tracker, applies every event locally first, then publishes it on
// the broker for the other instances to mirror.
type Hub struct {
	instanceID string
	svc        *service.Service
	tracker    *presence.Tracker
	broker     broker.Broker
	logger     *slog.Logger

	cancels []func()
}

func NewHub(svc *service.Service, b broker.Broker, logger *slog.Logger) *Hub {
	return &Hub{
		instanceID: uuid.NewString(),
		svc:        svc,
		tracker:    presence.NewTracker(),
		broker:     b,
		logger:     logger,
	}
}

func (h *Hub) InstanceID() string { return h.instanceID }

// Run subscribes to the broker channels. Handlers only enqueue to local
// connections, so they never block the subscription loops.
func (h *Hub) Run(ctx context.Context) error {
	subs := map[string]broker.Handler{
		broker.ChannelMessages:      h.onBrokerMessage,
		broker.ChannelPresence:      h.onBrokerPresence,
		broker.ChannelConversations: h.onBrokerConversation,
		broker.ChannelFriends:       h.onBrokerFriend,
	}
	for channel, fn := range subs {
		cancel, err := h.broker.Subscribe(ctx, channel, fn)
		if err != nil {
			h.Stop()
			return err
		}
		h.cancels = append(h.cancels, cancel)
	}
	return nil
}

func (h *Hub) Stop() {
	for _, cancel := range h.cancels {
		cancel()
	}
	h.cancels = nil
}

// Register adds the connection, emits the user's online transition if it is
// their first connection, and pushes the current online snapshot to the new
// client.
func (h *Hub) Register(ctx context.Context, c Conn) {
	first := h.tracker.Add(c.UserID(), c)
	metrics.ConnectionsActive.Inc()
	if first {
		metrics.PresenceTransitionsTotal.WithLabelValues("online").Inc()
		h.broadcastLocal(mustFrame(TypeUserOnline, "", PresencePayload{UserID: c.UserID().String()}))
		h.publish(ctx, broker.ChannelPresence, TypeUserOnline, presenceEvent{
			UserID: c.UserID().String(),
			State:  "online",
		})
	}
	c.Enqueue(h.onlineUsersFrame())
	h.logger.Info("connection registered",
		"conn_id", c.ID(), "user_id", c.UserID(), "device_id", c.DeviceID(), "first", first)
}

// Unregister removes the connection synchronously; the offline transition is
// emitted exactly once, when the user's last connection goes.
func (h *Hub) Unregister(ctx context.Context, c Conn) {
	last := h.tracker.Remove(c.UserID(), c)
	metrics.ConnectionsActive.Dec()
	if last {
		metrics.PresenceTransitionsTotal.WithLabelValues("offline").Inc()
		h.broadcastLocal(mustFrame(TypeUserOffline, "", PresencePayload{UserID: c.UserID().String()}))
		h.publish(ctx, broker.ChannelPresence, TypeUserOffline, presenceEvent{
			UserID: c.UserID().String(),
			State:  "offline",
		})
	}
	h.logger.Info("connection unregistered", "conn_id", c.ID(), "user_id", c.UserID(), "last", last)
}

// Dispatch routes one client frame. Errors come back on the same connection as
// structured error frames; nothing is propagated to other participants unless
// the operation succeeded.
func (h *Hub) Dispatch(ctx context.Context, c Conn, frame Frame) {
	switch frame.Type {
	case TypeSend:
		h.handleSend(ctx, c, frame)
	case TypeMarkDelivered:
		h.handleMarkDelivered(ctx, c, frame)
	case TypeMarkRead:
		h.handleMarkRead(ctx, c, frame)
	case TypeRequestOnlineUsers:
		c.Enqueue(h.onlineUsersFrame())
	default:
		c.Enqueue(errorFrame(frame.Ref, "unknown_type", "unknown frame type "+frame.Type))
	}
}

func (h *Hub) handleSend(ctx context.Context, c Conn, frame Frame) {
	var req SendPayload
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		c.Enqueue(errorFrame(frame.Ref, "bad_payload", "malformed send payload"))
		return
	}
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		c.Enqueue(errorFrame(frame.Ref, "bad_payload", "invalid conversationId"))
		return
	}
	senderDevice := c.DeviceID()
	if req.SenderDeviceID != "" {
		parsed, err := uuid.Parse(req.SenderDeviceID)
		if err != nil {
			c.Enqueue(errorFrame(frame.Ref, "bad_payload", "invalid senderDeviceId"))
			return
		}
		senderDevice = parsed
	}

	msg, err := h.svc.Send(ctx, service.SendInput{
		ConversationID: convID,
		SenderUserID:   c.UserID(),
		SenderDeviceID: senderDevice,
		Ciphertext:     req.Ciphertext,
		Nonce:          req.Nonce,
		SequenceIndex:  req.SequenceIndex,
	})
	if err != nil {
		metrics.MessagesRelayedTotal.WithLabelValues("rejected").Inc()
		c.Enqueue(errorFrameFromErr(frame.Ref, err))
		return
	}
	metrics.MessagesRelayedTotal.WithLabelValues("accepted").Inc()

	conv, err := h.svc.GetConversation(ctx, convID)
	if err != nil {
		c.Enqueue(errorFrameFromErr(frame.Ref, err))
		return
	}
	participants := conv.ParticipantIDs()

	// Ack before fan-out so the sender learns the persisted id even if its
	// own newMessage copy is dropped by a full queue.
	c.Enqueue(mustFrame(TypeAck, frame.Ref, AckPayload{MessageID: msg.ID.String()}))

	payload := messagePayload(*msg)
	h.fanOut(participants, mustFrame(TypeNewMessage, "", payload))
	h.publish(ctx, broker.ChannelMessages, TypeNewMessage, messageEvent{
		Participants: idStrings(participants),
		Message:      payload,
	})
}

func (h *Hub) handleMarkDelivered(ctx context.Context, c Conn, frame Frame) {
	var req ReceiptPayload
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		c.Enqueue(errorFrame(frame.Ref, "bad_payload", "malformed receipt payload"))
		return
	}
	msgID, err := uuid.Parse(req.MessageID)
	if err != nil {
		c.Enqueue(errorFrame(frame.Ref, "bad_payload", "invalid messageId"))
		return
	}
	if err := h.svc.MarkDelivered(ctx, c.UserID(), msgID); err != nil {
		c.Enqueue(errorFrameFromErr(frame.Ref, err))
		return
	}
	c.Enqueue(mustFrame(TypeAck, frame.Ref, AckPayload{MessageID: msgID.String()}))
}

// handleMarkRead stamps the receipt and broadcasts it to every participant —
// the sender's other devices need the read receipt too, not only the
// originating connection.
func (h *Hub) handleMarkRead(ctx context.Context, c Conn, frame Frame) {
	var req ReceiptPayload
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		c.Enqueue(errorFrame(frame.Ref, "bad_payload", "malformed receipt payload"))
		return
	}
	msgID, err := uuid.Parse(req.MessageID)
	if err != nil {
		c.Enqueue(errorFrame(frame.Ref, "bad_payload", "invalid messageId"))
		return
	}
	msg, err := h.svc.MarkRead(ctx, c.UserID(), msgID)
	if err != nil {
		c.Enqueue(errorFrameFromErr(frame.Ref, err))
		return
	}
	c.Enqueue(mustFrame(TypeAck, frame.Ref, AckPayload{MessageID: msgID.String()}))

	conv, err := h.svc.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		h.logger.Warn("read receipt fan-out skipped", "error", err, "message_id", msgID)
		return
	}
	participants := conv.ParticipantIDs()
	readAt := time.Now().UTC()
	if msg.ReadAt != nil {
		readAt = *msg.ReadAt
	}
	payload := MessageReadPayload{MessageID: msg.ID.String(), ReadAt: readAt}
	h.fanOut(participants, mustFrame(TypeMessageRead, "", payload))
	h.publish(ctx, broker.ChannelMessages, TypeMessageRead, readEvent{
		Participants: idStrings(participants),
		MessageID:    payload.MessageID,
		ReadAt:       payload.ReadAt,
	})
}

// NotifyConversation pushes a newly created conversation to the peer so their
// client learns of it without polling.
func (h *Hub) NotifyConversation(ctx context.Context, conv *domain.Conversation) {
	participants := conv.ParticipantIDs()
	payload := conversationPayload(*conv)
	h.fanOut(participants, mustFrame(TypeNewConversation, "", payload))
	h.publish(ctx, broker.ChannelConversations, TypeNewConversation, conversationEvent{
		Participants: idStrings(participants),
		Conversation: payload,
	})
}

// NotifyMessagesDeleted announces a bulk delete to every participant.
func (h *Hub) NotifyMessagesDeleted(ctx context.Context, conv *domain.Conversation) {
	participants := conv.ParticipantIDs()
	payload := MessagesDeletedPayload{ConversationID: conv.ID.String()}
	h.fanOut(participants, mustFrame(TypeMessagesDeleted, "", payload))
	h.publish(ctx, broker.ChannelMessages, TypeMessagesDeleted, deletedEvent{
		Participants:   idStrings(participants),
		ConversationID: payload.ConversationID,
	})
}

// PublishFriendEvent relays an opaque friend-workflow event (owned by the
// external collaborator) to the named users across all instances.
func (h *Hub) PublishFriendEvent(ctx context.Context, kind string, targets []uuid.UUID, payload json.RawMessage) {
	frame := Frame{Type: kind, Data: payload}
	h.fanOut(targets, frame)
	h.publish(ctx, broker.ChannelFriends, kind, friendEvent{
		Targets: idStrings(targets),
		Kind:    kind,
		Payload: payload,
	})
}

func (h *Hub) OnlineUsers() []uuid.UUID { return h.tracker.OnlineUsers() }

// --- broker handlers; each skips events this instance published itself ---

func (h *Hub) onBrokerMessage(ev broker.Event) {
	if ev.Origin == h.instanceID {
		return
	}
	metrics.BrokerEventsTotal.WithLabelValues(broker.ChannelMessages, "in").Inc()
	switch ev.Kind {
	case TypeNewMessage:
		var e messageEvent
		if json.Unmarshal(ev.Payload, &e) != nil {
			return
		}
		h.fanOut(parseIDs(e.Participants), mustFrame(TypeNewMessage, "", e.Message))
	case TypeMessageRead:
		var e readEvent
		if json.Unmarshal(ev.Payload, &e) != nil {
			return
		}
		h.fanOut(parseIDs(e.Participants), mustFrame(TypeMessageRead, "", MessageReadPayload{
			MessageID: e.MessageID,
			ReadAt:    e.ReadAt,
		}))
	case TypeMessagesDeleted:
		var e deletedEvent
		if json.Unmarshal(ev.Payload, &e) != nil {
			return
		}
		h.fanOut(parseIDs(e.Participants), mustFrame(TypeMessagesDeleted, "", MessagesDeletedPayload{
			ConversationID: e.ConversationID,
		}))
	}
}

func (h *Hub) onBrokerPresence(ev broker.Event) {
	if ev.Origin == h.instanceID {
		return
	}
	metrics.BrokerEventsTotal.WithLabelValues(broker.ChannelPresence, "in").Inc()
	var e presenceEvent
	if json.Unmarshal(ev.Payload, &e) != nil {
		return
	}
	frameType := TypeUserOnline
	if e.State == "offline" {
		frameType = TypeUserOffline
	}
	h.broadcastLocal(mustFrame(frameType, "", PresencePayload{UserID: e.UserID}))
}

func (h *Hub) onBrokerConversation(ev broker.Event) {
	if ev.Origin == h.instanceID {
		return
	}
	metrics.BrokerEventsTotal.WithLabelValues(broker.ChannelConversations, "in").Inc()
	var e conversationEvent
	if json.Unmarshal(ev.Payload, &e) != nil {
		return
	}
	h.fanOut(parseIDs(e.Participants), mustFrame(TypeNewConversation, "", e.Conversation))
}

func (h *Hub) onBrokerFriend(ev broker.Event) {
	if ev.Origin == h.instanceID {
		return
	}
	metrics.BrokerEventsTotal.WithLabelValues(broker.ChannelFriends, "in").Inc()
	var e friendEvent
	if json.Unmarshal(ev.Payload, &e) != nil {
		return
	}
	h.fanOut(parseIDs(e.Targets), Frame{Type: e.Kind, Data: e.Payload})
}

// --- fan-out helpers ---

// fanOut enqueues the frame on every local connection of every listed user.
// Each connection drains its own queue, so one slow client cannot delay the
// rest.
func (h *Hub) fanOut(userIDs []uuid.UUID, frame Frame) {
	for _, userID := range userIDs {
		for _, pc := range h.tracker.ConnectionsFor(userID) {
			if c, ok := pc.(Conn); ok {
				if c.Enqueue(frame) {
					metrics.FanOutDeliveriesTotal.Inc()
				}
			}
		}
	}
}

// broadcastLocal pushes a frame to every connection on this instance. Presence
// is deliberately process-global: every client hears every transition.
func (h *Hub) broadcastLocal(frame Frame) {
	for _, pc := range h.tracker.AllConnections() {
		if c, ok := pc.(Conn); ok {
			c.Enqueue(frame)
		}
	}
}

func (h *Hub) publish(ctx context.Context, channel, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("broker publish marshal failed", "channel", channel, "error", err)
		return
	}
	metrics.BrokerEventsTotal.WithLabelValues(channel, "out").Inc()
	if err := h.broker.Publish(ctx, channel, broker.Event{
		Origin:  h.instanceID,
		Kind:    kind,
		Payload: data,
	}); err != nil {
		// Best-effort by contract: persisted state is durable, the live
		// fan-out path is not.
		h.logger.Warn("broker publish failed", "channel", channel, "kind", kind, "error", err)
	}
}

func (h *Hub) onlineUsersFrame() Frame {
	return mustFrame(TypeOnlineUsers, "", OnlineUsersPayload{Users: idStrings(h.tracker.OnlineUsers())})
}

func errorFrame(ref, code, message string) Frame {
	return mustFrame(TypeError, ref, ErrorPayload{Code: code, Message: message})
}

func errorFrameFromErr(ref string, err error) Frame {
	switch {
	case errors.Is(err, service.ErrNotAuthorized), errors.Is(err, service.ErrDeviceRevoked):
		return errorFrame(ref, "not_authorized", err.Error())
	case errors.Is(err, service.ErrNotFound):
		return errorFrame(ref, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		return errorFrame(ref, "bad_request", err.Error())
	default:
		return errorFrame(ref, "internal", "internal error")
	}
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}
