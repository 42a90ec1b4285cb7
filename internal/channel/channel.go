// Package channel implements named broadcast groups and the process-wide
// registry they live in. A channel tracks its subscribers and the set of
// usernames entitled to join; domain behavior is attached through the
// OnMessage/OnJoin/OnLeave hooks.
package channel

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/emdash/todoserver/internal/fault"
	"github.com/emdash/todoserver/pkg/wire"
)

// Subscriber is what a channel needs from a connection. ForceLeave is
// invoked during channel teardown so the connection's own bookkeeping stays
// consistent with the subscriber set.
type Subscriber interface {
	ID() uuid.UUID
	Username() string
	Send(msg []byte)
	ForceLeave(ch *Channel)
}

// Hooks customize a channel's behavior. They run while the channel's mutex
// is held: use Post/SendTo (not Broadcast) from inside a hook.
type Hooks struct {
	OnMessage func(sub Subscriber, content json.RawMessage) error
	OnJoin    func(sub Subscriber)
	OnLeave   func(sub Subscriber)
}

type Channel struct {
	name  string
	hooks Hooks

	mu          sync.Mutex
	subscribers map[uuid.UUID]Subscriber
	entitled    map[string]struct{}
	closed      bool

	logger *slog.Logger
}

func New(name string, hooks Hooks, logger *slog.Logger) *Channel {
	return &Channel{
		name:        name,
		hooks:       hooks,
		subscribers: make(map[uuid.UUID]Subscriber),
		entitled:    make(map[string]struct{}),
		logger:      logger.With(slog.String("component", "channel"), slog.String("channel", name)),
	}
}

func (c *Channel) Name() string {
	return c.name
}

// Join adds the subscriber after an entitlement check, then runs OnJoin so
// the owning domain object can replay state to the newcomer. The subscriber
// receives broadcasts as soon as Join returns. Entitlement is checked at
// join time only; a later Revoke does not evict.
func (c *Channel) Join(sub Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fault.NotFound("Invalid channel name.")
	}
	if _, ok := c.entitled[sub.Username()]; !ok {
		return fault.Authorization("You are not allowed to join this channel.")
	}
	c.subscribers[sub.ID()] = sub
	if c.hooks.OnJoin != nil {
		c.hooks.OnJoin(sub)
	}
	c.logger.Debug("Subscriber joined", slog.String("username", sub.Username()))
	return nil
}

// Leave removes the subscriber. Other members are not notified.
func (c *Channel) Leave(sub Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscribers[sub.ID()]; !ok {
		return fault.NotFound("Not joined to channel.")
	}
	delete(c.subscribers, sub.ID())
	if c.hooks.OnLeave != nil {
		c.hooks.OnLeave(sub)
	}
	// Leave runs on the destroy path too; the ID is the only subscriber
	// field safe to read from any goroutine.
	c.logger.Debug("Subscriber left", slog.String("connID", sub.ID().String()))
	return nil
}

// Send routes an inbound message through the OnMessage hook. Nothing is
// re-broadcast automatically; the hook decides whether and what to send.
// A destroyed channel refuses sends the same way it refuses joins.
func (c *Channel) Send(sub Subscriber, content json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fault.NotFound("Invalid channel name.")
	}
	if c.hooks.OnMessage == nil {
		return nil
	}
	return c.hooks.OnMessage(sub, content)
}

// Broadcast wraps content as a channel-message and delivers it to every
// current subscriber at most once. Not for use inside hooks; see Post.
func (c *Channel) Broadcast(content any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.post(content)
}

// Post is Broadcast for callers already inside a hook, where the channel
// mutex is held.
func (c *Channel) Post(content any) {
	c.post(content)
}

func (c *Channel) post(content any) {
	msg := wire.ChannelMessage(c.name, content)
	for _, sub := range c.subscribers {
		sub.Send(msg)
	}
}

// SendTo delivers content to a single subscriber, bypassing membership
// iteration. Used for join replay and targeted replies.
func (c *Channel) SendTo(sub Subscriber, content any) {
	sub.Send(wire.ChannelMessage(c.name, content))
}

// Entitle authorizes a username to join.
func (c *Channel) Entitle(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitled[username] = struct{}{}
}

// Revoke withdraws a username's authorization. Current subscribers are not
// evicted.
func (c *Channel) Revoke(username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entitled[username]; !ok {
		return fault.NotFound("User not entitled.")
	}
	delete(c.entitled, username)
	return nil
}

// IsEntitled reports whether the username may join.
func (c *Channel) IsEntitled(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entitled[username]
	return ok
}

// EntitledUsers returns the authorization list. Used by persistence.
func (c *Channel) EntitledUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := make([]string, 0, len(c.entitled))
	for u := range c.entitled {
		users = append(users, u)
	}
	return users
}

// SubscriberCount is used by tests and teardown logging.
func (c *Channel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// shutdown marks the channel dead, notifies subscribers and returns them so
// the registry can force-leave each one outside the channel mutex.
func (c *Channel) shutdown() []Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.post(wire.NewDestroy())
	subs := make([]Subscriber, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subs = append(subs, sub)
	}
	return subs
}
