// Package broker carries relay events across instance boundaries. It is a
// best-effort broadcast channel, never a source of truth: an event published
// while a peer instance is unreachable is simply lost, and clients recover by
// re-fetching history.
package broker

import "context"

const (
	ChannelMessages      = "ghostchannel.messages"
	ChannelPresence      = "ghostchannel.presence"
	ChannelConversations = "ghostchannel.conversations"
	ChannelFriends       = "ghostchannel.friends"
)

// Event is the envelope published on a channel. Origin identifies the
// publishing instance so subscribers can skip their own events; every instance
// fans out locally before publishing.
type Event struct {
	Origin  string `json:"origin"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

// Handler is invoked for each event in per-channel publish order. It must not
// block: slow work belongs on the receiving side of a buffered handoff.
type Handler func(ev Event)

type Broker interface {
	Publish(ctx context.Context, channel string, ev Event) error
	// Subscribe registers the handler and returns a cancel function that stops
	// delivery and releases the subscription.
	Subscribe(ctx context.Context, channel string, fn Handler) (func(), error)
	Close() error
}
