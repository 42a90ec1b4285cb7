// Package dispatch routes inbound frames from transport connections to the
// shared channel table. It owns the per-connection state machine: login
// attempt tracking, channel membership bookkeeping, and the soft/hard
// failure boundary.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emdash/todoserver/internal/auth"
	"github.com/emdash/todoserver/internal/channel"
	"github.com/emdash/todoserver/internal/fault"
	"github.com/emdash/todoserver/pkg/config"
	"github.com/emdash/todoserver/pkg/wire"
)

// Link is the transport surface the dispatcher needs from a connection.
type Link interface {
	ID() uuid.UUID
	Send(msg []byte)
	Close(err error)
}

type Dispatcher struct {
	registry *channel.Registry
	creds    *auth.Store
	cfg      config.LoginConfig

	mu    sync.Mutex
	conns map[uuid.UUID]*Conn

	now    func() time.Time
	logger *slog.Logger
}

func New(registry *channel.Registry, creds *auth.Store, cfg config.LoginConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		creds:    creds,
		cfg:      cfg,
		conns:    make(map[uuid.UUID]*Conn),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Open registers a new transport connection. The connection starts
// unauthenticated with an empty joined set.
func (d *Dispatcher) Open(link Link) *Conn {
	conn := &Conn{
		d:      d,
		link:   link,
		joined: make(map[string]*channel.Channel),
	}

	d.mu.Lock()
	d.conns[link.ID()] = conn
	d.mu.Unlock()

	d.logger.Debug("Connection opened", slog.String("connID", link.ID().String()))
	return conn
}

// CloseConn tears down a connection: every channel still in its joined set
// is left, so a crashed client never leaves stale subscriber entries.
func (d *Dispatcher) CloseConn(connID uuid.UUID) {
	d.mu.Lock()
	conn, ok := d.conns[connID]
	delete(d.conns, connID)
	d.mu.Unlock()
	if !ok {
		return
	}

	conn.leaveAll()
	d.logger.Debug("Connection closed", slog.String("connID", connID.String()))
}

// CloseAll force-closes every live transport. Each close lands back in
// CloseConn through the transport's close handler, so the links are
// collected first and closed outside the dispatcher mutex.
func (d *Dispatcher) CloseAll(reason error) {
	d.mu.Lock()
	links := make([]Link, 0, len(d.conns))
	for _, conn := range d.conns {
		links = append(links, conn.link)
	}
	d.mu.Unlock()

	for _, link := range links {
		link.Close(reason)
	}
}

func (d *Dispatcher) getConn(connID uuid.UUID) (*Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.conns[connID]
	return conn, ok
}

// HandleMessage is the transport's message callback. Soft failures become an
// error frame; hard failures (a connection that cannot speak the protocol at
// all) send the frame and then close the transport.
func (d *Dispatcher) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	conn, ok := d.getConn(connID)
	if !ok {
		d.logger.Warn("Message from unknown connection", slog.String("connID", connID.String()))
		return
	}

	if err := conn.handle(raw); err != nil {
		f, ok := fault.Of(err)
		if !ok {
			d.logger.Error("Unclassified handler error", slog.Any("error", err))
			conn.link.Send(wire.Error("Internal error."))
			return
		}
		conn.link.Send(wire.Error(f.Message))
		if f.Hard() {
			d.logger.Warn("Hard failure; closing connection",
				slog.String("connID", connID.String()),
				slog.String("reason", f.Message),
			)
			conn.link.Close(f)
		}
	}
}
