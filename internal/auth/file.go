package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Credential is one entry of the credentials file.
type Credential struct {
	Username string `json:"username"`
	PwHash   string `json:"pwhash"`
}

// LoadFile replaces the store's contents with the credentials file at path.
// Users that survive the reload keep their action entitlements. An absent
// file means an empty store, not a failure. Returns the usernames that were
// not present before the load.
func (s *Store) LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("Credentials file not found; starting with no users", slog.String("path", path))
			return nil, nil
		}
		return nil, err
	}

	var creds []Credential
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	users := make(map[string]*record, len(creds))
	for _, c := range creds {
		rec := &record{pwhash: c.PwHash, actions: make(map[string]struct{})}
		if old, ok := s.users[c.Username]; ok {
			rec.actions = old.actions
		} else {
			added = append(added, c.Username)
		}
		users[c.Username] = rec
	}
	s.users = users

	s.logger.Info("Credentials loaded", slog.String("path", path), slog.Int("users", len(users)))
	return added, nil
}

// Watch reloads the credentials file whenever it changes on disk, until ctx
// is done. onReload receives the usernames that appeared in the reload.
// The parent directory is watched because editors and atomic writers replace
// the file rather than writing it in place.
func (s *Store) Watch(ctx context.Context, path string, onReload func(added []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				added, err := s.LoadFile(path)
				if err != nil {
					s.logger.Error("Credentials reload failed", slog.Any("error", err))
					continue
				}
				if onReload != nil {
					onReload(added)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("Credentials watcher error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
