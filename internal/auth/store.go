// Package auth holds the credential store: username to password-hash plus a
// per-user set of entitled action names. Authorization for individual
// channels lives on the channels themselves; the action set here is a
// generic, action-level ACL.
package auth

import (
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/emdash/todoserver/internal/fault"
)

type record struct {
	pwhash  string
	actions map[string]struct{}
}

type Store struct {
	mu     sync.RWMutex
	users  map[string]*record
	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		users:  make(map[string]*record),
		logger: logger.With(slog.String("component", "credential_store")),
	}
}

// HashPassword derives the stored form of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AddUser registers a new user. Adding an existing user fails.
func (s *Store) AddUser(username, pwhash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return fault.Validation("User exists.")
	}
	s.users[username] = &record{pwhash: pwhash, actions: make(map[string]struct{})}
	s.logger.Debug("User added", slog.String("username", username))
	return nil
}

// DelUser removes a user. Deleting an unknown user fails.
func (s *Store) DelUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; !exists {
		return fault.NotFound("Invalid username.")
	}
	delete(s.users, username)
	s.logger.Debug("User deleted", slog.String("username", username))
	return nil
}

// HasUser reports whether the username is known.
func (s *Store) HasUser(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

// Usernames returns every known username.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	return names
}

// Authenticate reports whether the username/password pair matches a stored
// credential. Unknown users and bad passwords are indistinguishable.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.RLock()
	rec, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(rec.pwhash), []byte(password)) == nil
}

// Grant entitles the user to an action.
func (s *Store) Grant(username, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[username]
	if !ok {
		return fault.NotFound("Invalid username.")
	}
	rec.actions[action] = struct{}{}
	return nil
}

// Revoke withdraws an action entitlement.
func (s *Store) Revoke(username, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[username]
	if !ok {
		return fault.NotFound("Invalid username.")
	}
	if _, ok := rec.actions[action]; !ok {
		return fault.NotFound("Action not granted.")
	}
	delete(rec.actions, action)
	return nil
}

// CanDo reports whether the user is entitled to the action. Unknown users
// are an error, not a false.
func (s *Store) CanDo(username, action string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[username]
	if !ok {
		return false, fault.NotFound("Invalid username.")
	}
	_, ok = rec.actions[action]
	return ok, nil
}
