package server

import (
	"log/slog"

	"github.com/emdash/todoserver/internal/list"
)

// Flush writes a durable snapshot when anything is dirty. Snapshots are
// taken under each list's mutex, the file I/O happens outside every lock,
// and dirty flags are cleared only for state that did not change while the
// write was in flight. A clean state performs no file operations.
func (a *App) Flush() error {
	a.mu.Lock()
	metaVersion := a.metaVersion
	dirty := a.metaDirty
	lists := make([]*list.List, 0, len(a.order))
	for _, id := range a.order {
		lists = append(lists, a.lists[id])
	}
	a.mu.Unlock()

	records := make([]list.Record, 0, len(lists))
	versions := make([]uint64, 0, len(lists))
	for _, l := range lists {
		rec, ver := l.Snapshot()
		records = append(records, rec)
		versions = append(versions, ver)
		if l.Dirty() {
			dirty = true
		}
	}
	if !dirty {
		return nil
	}

	if err := a.store.Save(records); err != nil {
		return err
	}

	for i, l := range lists {
		l.ClearDirtyAt(versions[i])
	}
	a.mu.Lock()
	if a.metaVersion == metaVersion {
		a.metaDirty = false
	}
	a.mu.Unlock()
	return nil
}

// IsDirty reports whether a flush would write.
func (a *App) IsDirty() bool {
	a.mu.Lock()
	if a.metaDirty {
		a.mu.Unlock()
		return true
	}
	lists := make([]*list.List, 0, len(a.order))
	for _, id := range a.order {
		lists = append(lists, a.lists[id])
	}
	a.mu.Unlock()

	for _, l := range lists {
		if l.Dirty() {
			return true
		}
	}
	return false
}

func (a *App) flushTick() {
	if err := a.Flush(); err != nil {
		a.logger.Error("Flush failed", slog.Any("error", err))
	}
}

// restore loads credentials and the persisted lists at startup. Every known
// user is entitled on the control channel; each persisted list comes back
// with its id, items and entitled users, so authorization is restored along
// with content. A freshly restored process is not dirty.
func (a *App) restore() error {
	if _, err := a.creds.LoadFile(a.config.Storage.CredentialsPath); err != nil {
		return err
	}
	for _, username := range a.creds.Usernames() {
		a.control.Entitle(username)
	}

	records, err := a.store.Load()
	if err != nil {
		return err
	}
	for _, rec := range records {
		a.createList(rec.Name, rec.ID, rec.Items, rec.Users...)
	}

	a.mu.Lock()
	a.metaDirty = false
	a.mu.Unlock()
	return nil
}
