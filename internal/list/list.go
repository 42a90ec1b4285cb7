// Package list implements the collaborative list aggregate. A List owns one
// channel named by its id; joiners get the current items replayed as
// synthetic inserts, and mutations are applied locally, marked dirty and
// echoed back to every subscriber, the sender included.
package list

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/emdash/todoserver/internal/channel"
	"github.com/emdash/todoserver/internal/fault"
	"github.com/emdash/todoserver/pkg/wire"
)

type List struct {
	id string

	mu      sync.Mutex
	name    string
	items   []map[string]any
	dirty   bool
	version uint64 // bumped on every mutation; guards dirty clearing

	channel *channel.Channel
	logger  *slog.Logger
}

// Record is the persisted form of a list.
type Record struct {
	Name  string           `json:"name"`
	ID    string           `json:"id"`
	Items []map[string]any `json:"items"`
	Users []string         `json:"users"`
}

// New builds a list and its channel. An empty id means a fresh list; a
// non-empty one restores a persisted identity. Restored items are adopted
// as-is, without broadcasting.
func New(name, id string, items []map[string]any, logger *slog.Logger) *List {
	if id == "" {
		id = uuid.NewString()
	}
	l := &List{
		id:     id,
		name:   name,
		items:  items,
		logger: logger.With(slog.String("component", "list"), slog.String("listID", id)),
	}
	l.channel = channel.New(id, channel.Hooks{
		OnMessage: l.onMessage,
		OnJoin:    l.onJoin,
	}, logger)
	return l
}

func (l *List) ID() string {
	return l.id
}

func (l *List) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

func (l *List) Channel() *channel.Channel {
	return l.channel
}

// Rename updates the display label. List metadata dirtiness is tracked by
// the server, but the flag is set here too so a flush always captures the
// new name.
func (l *List) Rename(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = name
	l.dirty = true
	l.version++
}

func (l *List) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// ClearDirtyAt clears the dirty flag only if no mutation has landed since
// the snapshot the version came from. A mutation applied while the flush
// was writing stays dirty for the next flush.
func (l *List) ClearDirtyAt(version uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.version == version {
		l.dirty = false
	}
}

// Snapshot returns a deep copy of the persistable state plus the version it
// was taken at, so the flush can serialize outside the list mutex and clear
// the dirty flag only if nothing changed meanwhile. The entitled users are
// read before the list mutex is taken: hooks lock channel-then-list, and
// taking the two in the opposite order here would deadlock.
func (l *List) Snapshot() (Record, uint64) {
	users := l.channel.EntitledUsers()

	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]map[string]any, len(l.items))
	for i, item := range l.items {
		items[i] = copyAttrs(item)
	}
	rec := Record{
		Name:  l.name,
		ID:    l.id,
		Items: items,
		Users: users,
	}
	return rec, l.version
}

// onJoin replays the current items to the joining subscriber, in index
// order. The channel mutex is held by the caller, so no broadcast can
// interleave with the replay.
func (l *List) onJoin(sub channel.Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, item := range l.items {
		l.channel.SendTo(sub, wire.NewInsert(i, copyAttrs(item)))
	}
}

func (l *List) onMessage(sub channel.Subscriber, content json.RawMessage) error {
	op, err := wire.DecodeListOp(content)
	if err != nil {
		return err
	}
	if op.Ignored {
		l.logger.Debug("Ignoring unrecognized list operation")
		return nil
	}

	event, err := l.apply(op)
	if err != nil {
		return err
	}
	l.channel.Post(event)
	return nil
}

// apply mutates the item sequence under the list mutex and returns the event
// to echo. The caller posts it while still holding the channel mutex.
func (l *List) apply(op *wire.ListOp) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch op.Type {
	case wire.TypeInsert:
		if op.Index < 0 || op.Index > len(l.items) {
			return nil, fault.Index("Index out of range.")
		}
		l.items = append(l.items, nil)
		copy(l.items[op.Index+1:], l.items[op.Index:])
		l.items[op.Index] = copyAttrs(op.Attrs)
		l.dirty = true
		l.version++
		return wire.NewInsert(op.Index, op.Attrs), nil

	case wire.TypeDelete:
		if op.Index < 0 || op.Index >= len(l.items) {
			return nil, fault.Index("Index out of range.")
		}
		l.items = append(l.items[:op.Index], l.items[op.Index+1:]...)
		l.dirty = true
		l.version++
		return wire.NewDelete(op.Index), nil

	case wire.TypeUpdate:
		if op.Index < 0 || op.Index >= len(l.items) {
			return nil, fault.Index("Index out of range.")
		}
		// Merge: keys absent from the update payload survive.
		for k, v := range op.Attrs {
			l.items[op.Index][k] = v
		}
		l.dirty = true
		l.version++
		return wire.NewUpdate(op.Index, op.Attrs), nil
	}
	return nil, fault.Validation("Unknown list operation.")
}

// Items returns a deep copy of the item sequence.
func (l *List) Items() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]map[string]any, len(l.items))
	for i, item := range l.items {
		items[i] = copyAttrs(item)
	}
	return items
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
