package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emdash/todoserver/internal/channel"
	"github.com/emdash/todoserver/internal/fault"
	"github.com/emdash/todoserver/pkg/wire"
)

// Conn is the dispatcher's view of one live connection. The conn mutex
// guards only the conn's own fields and is never held while a channel mutex
// is acquired: Registry.Destroy calls back into ForceLeave from under the
// control channel's hook, so holding the conn mutex across channel calls
// would close a lock cycle.
type Conn struct {
	d    *Dispatcher
	link Link

	mu            sync.Mutex
	authenticated bool
	username      string
	attempts      int
	lastAttempt   time.Time
	closing       bool
	joined        map[string]*channel.Channel
}

var _ channel.Subscriber = (*Conn)(nil)

func (c *Conn) ID() uuid.UUID {
	return c.link.ID()
}

// Username must not take the conn mutex: channels call it from Join and from
// hooks, which run on this connection's own reader goroutine. The field is
// written only by login on that same goroutine.
func (c *Conn) Username() string {
	return c.username
}

func (c *Conn) Send(msg []byte) {
	c.link.Send(msg)
}

// ForceLeave is the teardown hook called by Registry.Destroy: drop the
// subscription, then the joined-set entry, for a channel being destroyed.
func (c *Conn) ForceLeave(ch *channel.Channel) {
	ch.Leave(c) // best effort; the channel is going away regardless

	c.mu.Lock()
	delete(c.joined, ch.Name())
	c.mu.Unlock()
}

func (c *Conn) handle(raw []byte) error {
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		return err
	}

	switch {
	case env.Ignored:
		// Unrecognized types are a documented no-op, not an error.
		c.d.logger.Debug("Ignoring unrecognized message type", slog.String("type", env.Type))
		return nil
	case env.Login != nil:
		return c.login(env.Login.User, env.Login.Password)
	case env.Join != nil:
		return c.join(env.Join.Name)
	case env.Leave != nil:
		return c.leave(env.Leave.Name)
	case env.Send != nil:
		return c.send(env.Send.Name, env.Send.Content)
	}
	return nil
}

// login enforces the attempt cap and the minimum retry interval before the
// credentials are even looked at, so a flood of correct guesses is throttled
// the same as a flood of wrong ones. Every failure counts against the cap;
// only success resets it.
func (c *Conn) login(user, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.d.now()
	elapsed := now.Sub(c.lastAttempt)
	first := c.lastAttempt.IsZero()
	c.lastAttempt = now

	if c.attempts >= c.d.cfg.MaxAttempts {
		c.attempts++
		return fault.TooManyAttempts("Too many attempts.")
	}
	if !first && elapsed < c.d.cfg.MinRetryInterval {
		c.attempts++
		return fault.RateLimited("Minimum retry interval not expired.")
	}
	if !c.d.creds.Authenticate(user, password) {
		c.attempts++
		return fault.AccessDenied("Access Denied.")
	}

	c.attempts = 0
	c.authenticated = true
	c.username = user
	c.link.Send(wire.LoginOK())
	return nil
}

// join records the membership before calling Channel.Join and rolls it back
// on failure. A destroy or a connection teardown landing between the two
// steps finds the joined entry (or the closing flag) and undoes the half of
// the join it raced with; the post-join closing re-check covers the other
// half.
func (c *Conn) join(name string) error {
	ch, found := c.d.registry.Get(name)

	c.mu.Lock()
	if !c.authenticated {
		c.mu.Unlock()
		return fault.Authentication("You are not logged in.")
	}
	if !found || c.closing {
		c.mu.Unlock()
		return fault.NotFound("Invalid channel name.")
	}
	c.joined[name] = ch
	c.mu.Unlock()

	if err := ch.Join(c); err != nil {
		c.mu.Lock()
		delete(c.joined, name)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		ch.Leave(c)
		return fault.NotFound("Invalid channel name.")
	}
	c.mu.Unlock()
	return nil
}

func (c *Conn) leave(name string) error {
	c.mu.Lock()
	ch, ok := c.joined[name]
	delete(c.joined, name)
	c.mu.Unlock()

	if !ok {
		return fault.NotJoined("Not joined to channel.")
	}
	return ch.Leave(c)
}

func (c *Conn) send(name string, content json.RawMessage) error {
	c.mu.Lock()
	ch, ok := c.joined[name]
	c.mu.Unlock()

	if !ok {
		return fault.NotJoined("Not joined to channel.")
	}
	return ch.Send(c, content)
}

// leaveAll empties the joined set under the mutex, then leaves each channel
// outside it. The closing flag stops a concurrent join from re-subscribing
// after the sweep.
func (c *Conn) leaveAll() {
	c.mu.Lock()
	c.closing = true
	chans := make([]*channel.Channel, 0, len(c.joined))
	for _, ch := range c.joined {
		chans = append(chans, ch)
	}
	c.joined = make(map[string]*channel.Channel)
	c.mu.Unlock()

	for _, ch := range chans {
		ch.Leave(c)
	}
}
