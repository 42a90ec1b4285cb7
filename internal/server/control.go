package server

import (
	"encoding/json"
	"log/slog"

	"github.com/emdash/todoserver/internal/channel"
	"github.com/emdash/todoserver/internal/fault"
	"github.com/emdash/todoserver/internal/list"
	"github.com/emdash/todoserver/pkg/wire"
)

// onControlMessage handles list lifecycle operations. It runs inside the
// control channel's OnMessage hook, so replies and broadcasts use
// SendTo/Post rather than Broadcast.
func (a *App) onControlMessage(sub channel.Subscriber, content json.RawMessage) error {
	op, err := wire.DecodeControlOp(content)
	if err != nil {
		return err
	}

	switch {
	case op.Ignored:
		a.logger.Debug("Ignoring unrecognized control operation")
		return nil
	case op.Type == wire.TypeGetLists:
		return a.handleGetLists(sub)
	case op.Type == wire.TypeCreate:
		return a.handleCreate(sub, op)
	case op.Type == wire.TypeRename:
		return a.handleRename(op)
	case op.Type == wire.TypeListDelete:
		return a.handleDelete(op)
	}
	return nil
}

// handleGetLists replies only with lists the requester is entitled to; the
// existence of other lists stays confidential.
func (a *App) handleGetLists(sub channel.Subscriber) error {
	username := sub.Username()
	for _, l := range a.snapshotLists() {
		if !l.Channel().IsEntitled(username) {
			continue
		}
		a.control.SendTo(sub, wire.NewListAdded(l.Name(), l.ID()))
	}
	return nil
}

func (a *App) handleCreate(sub channel.Subscriber, op *wire.ControlOp) error {
	l := a.createList(op.Name, op.ID, nil, sub.Username())
	a.control.Post(wire.NewListAdded(l.Name(), l.ID()))
	return nil
}

func (a *App) handleRename(op *wire.ControlOp) error {
	a.mu.Lock()
	l, ok := a.lists[op.ID]
	if ok {
		a.metaDirty = true
		a.metaVersion++
	}
	a.mu.Unlock()
	if !ok {
		return fault.NotFound("Invalid list id.")
	}

	l.Rename(op.Name)
	a.control.Post(wire.NewListRenamed(op.ID, op.Name))
	a.logger.Info("List renamed", slog.String("listID", op.ID), slog.String("name", op.Name))
	return nil
}

// handleDelete destroys the list's channel too: subscribers get a destroy
// notice and are force-left before the list disappears.
func (a *App) handleDelete(op *wire.ControlOp) error {
	a.mu.Lock()
	l, ok := a.lists[op.ID]
	if ok {
		delete(a.lists, op.ID)
		a.order = removeID(a.order, op.ID)
		a.metaDirty = true
		a.metaVersion++
	}
	a.mu.Unlock()
	if !ok {
		return fault.NotFound("Invalid list id.")
	}

	if err := a.registry.Destroy(l.Channel().Name()); err != nil {
		a.logger.Error("Failed to destroy list channel", slog.String("listID", op.ID), slog.Any("error", err))
	}
	a.control.Post(wire.NewListDeleted(op.ID))
	a.logger.Info("List deleted", slog.String("listID", op.ID))
	return nil
}

// createList builds a list, registers its channel and records it. An empty
// id generates a fresh one; owners are entitled on the new channel.
func (a *App) createList(name, id string, items []map[string]any, owners ...string) *list.List {
	l := list.New(name, id, items, a.logger)
	a.registry.Add(l.Channel(), owners...)

	a.mu.Lock()
	a.lists[l.ID()] = l
	a.order = append(a.order, l.ID())
	a.metaDirty = true
	a.metaVersion++
	a.mu.Unlock()

	a.logger.Info("List created", slog.String("listID", l.ID()), slog.String("name", name))
	return l
}

// snapshotLists returns the lists in creation order.
func (a *App) snapshotLists() []*list.List {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*list.List, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.lists[id])
	}
	return out
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
