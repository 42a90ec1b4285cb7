package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/emdash/todoserver/internal/auth"
	"github.com/emdash/todoserver/pkg/config"
	"github.com/emdash/todoserver/pkg/logging"
)

// client drives a dispatcher directly through a fake transport link, so the
// full login/join/send path is exercised without a websocket.
type client struct {
	app *App
	id  uuid.UUID

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *client) ID() uuid.UUID { return c.id }

func (c *client) Send(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, msg)
}

func (c *client) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *client) deliver(raw string) {
	c.app.dispatcher.HandleMessage(context.Background(), c.id, []byte(raw))
}

func (c *client) lastFrame(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)

	var m map[string]any
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], &m))
	return m
}

// drain returns every frame received so far and forgets them.
func (c *client) drain(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.frames))
	for _, raw := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	c.frames = nil
	return out
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Address: "127.0.0.1:0"},
		Transport: config.TransportConfig{ReadTimeout: time.Minute},
		Storage: config.StorageConfig{
			DataPath:        filepath.Join(dir, "data.txt"),
			BackupDir:       filepath.Join(dir, "backups"),
			CredentialsPath: filepath.Join(dir, "credentials.txt"),
			FlushInterval:   time.Hour,
		},
		Login: config.LoginConfig{MaxAttempts: 5, MinRetryInterval: 0},
	}
}

// newTestApp builds an app over a temp dir with alice and bob on file.
func newTestApp(t *testing.T, dir string) *App {
	t.Helper()
	credsPath := filepath.Join(dir, "credentials.txt")
	if _, err := os.Stat(credsPath); os.IsNotExist(err) {
		data, err := json.Marshal([]auth.Credential{
			{Username: "alice", PwHash: hash(t, "wonder")},
			{Username: "bob", PwHash: hash(t, "builder")},
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(credsPath, data, 0o644))
	}

	app, err := NewApp(logging.Discard(), context.Background(), testConfig(dir))
	require.NoError(t, err)
	return app
}

func connect(t *testing.T, app *App, user, password string) *client {
	t.Helper()
	c := &client{app: app, id: uuid.New()}
	app.dispatcher.Open(c)
	c.deliver(fmt.Sprintf(`{"type":"login","user":%q,"password":%q}`, user, password))
	require.Equal(t, "ok", c.lastFrame(t)["status"])
	c.deliver(`{"type":"join","name":"control"}`)
	c.drain(t)
	return c
}

// createList issues a create on the control channel and returns the new id
// from the list-added broadcast.
func createList(t *testing.T, c *client, name string) string {
	t.Helper()
	c.deliver(fmt.Sprintf(`{"type":"send","name":"control","content":{"type":"create","name":%q}}`, name))

	frame := c.lastFrame(t)
	require.Equal(t, "channel-message", frame["type"])
	content := frame["content"].(map[string]any)
	require.Equal(t, "list-added", content["type"])
	require.Equal(t, name, content["name"])
	c.drain(t)
	return content["id"].(string)
}

func TestCreateAndEditList(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	alice := connect(t, app, "alice", "wonder")

	id := createList(t, alice, "Groceries")
	alice.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	alice.drain(t)

	alice.deliver(fmt.Sprintf(`{"type":"send","name":%q,"content":{"type":"insert","index":0,"attrs":{"text":"milk"}}}`, id))
	frame := alice.lastFrame(t)
	content := frame["content"].(map[string]any)
	assert.Equal(t, "insert", content["type"])
	assert.Equal(t, "milk", content["attrs"].(map[string]any)["text"])

	// a second session joining the list gets the current items replayed
	again := connect(t, app, "alice", "wonder")
	again.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	frames := again.drain(t)
	require.Len(t, frames, 1)
	replay := frames[0]["content"].(map[string]any)
	assert.Equal(t, "insert", replay["type"])
	assert.Equal(t, "milk", replay["attrs"].(map[string]any)["text"])
}

func TestListsAreConfidential(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	alice := connect(t, app, "alice", "wonder")
	id := createList(t, alice, "secrets")

	bob := connect(t, app, "bob", "builder")
	bob.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	assert.Equal(t, "You are not allowed to join this channel.", bob.lastFrame(t)["message"])

	// get-lists omits lists bob has no entitlement on
	bob.drain(t)
	bob.deliver(`{"type":"send","name":"control","content":{"type":"get-lists"}}`)
	assert.Empty(t, bob.drain(t))

	alice.drain(t)
	alice.deliver(`{"type":"send","name":"control","content":{"type":"get-lists"}}`)
	frames := alice.drain(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "list-added", frames[0]["content"].(map[string]any)["type"])
}

func TestRenameBroadcasts(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	alice := connect(t, app, "alice", "wonder")
	bob := connect(t, app, "bob", "builder")
	id := createList(t, alice, "Groceries")
	bob.drain(t)

	alice.deliver(fmt.Sprintf(`{"type":"send","name":"control","content":{"type":"rename","id":%q,"name":"Errands"}}`, id))

	for _, c := range []*client{alice, bob} {
		content := c.lastFrame(t)["content"].(map[string]any)
		assert.Equal(t, "list-rename", content["type"])
		assert.Equal(t, id, content["id"])
		assert.Equal(t, "Errands", content["name"])
	}

	alice.drain(t)
	alice.deliver(`{"type":"send","name":"control","content":{"type":"rename","id":"nope","name":"X"}}`)
	assert.Equal(t, "Invalid list id.", alice.lastFrame(t)["message"])
}

func TestDeleteDestroysChannel(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	alice := connect(t, app, "alice", "wonder")
	id := createList(t, alice, "Doomed")
	alice.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	alice.drain(t)

	alice.deliver(fmt.Sprintf(`{"type":"send","name":"control","content":{"type":"delete","id":%q}}`, id))

	frames := alice.drain(t)
	require.Len(t, frames, 2)
	// destroy notice on the list channel first, then the control broadcast
	destroy := frames[0]["content"].(map[string]any)
	assert.Equal(t, "destroy", destroy["type"])
	assert.Equal(t, id, frames[0]["name"])
	deleted := frames[1]["content"].(map[string]any)
	assert.Equal(t, "list-delete", deleted["type"])
	assert.Equal(t, id, deleted["id"])

	// the channel is gone
	alice.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	assert.Equal(t, "Invalid channel name.", alice.lastFrame(t)["message"])
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp(t, dir)
	assert.False(t, app.IsDirty())

	require.NoError(t, app.Flush())
	_, err := os.Stat(filepath.Join(dir, "data.txt"))
	assert.True(t, os.IsNotExist(err), "clean state must not touch the disk")

	alice := connect(t, app, "alice", "wonder")
	createList(t, alice, "Groceries")
	assert.True(t, app.IsDirty())

	require.NoError(t, app.Flush())
	assert.False(t, app.IsDirty())
	_, err = os.Stat(filepath.Join(dir, "data.txt"))
	require.NoError(t, err)
}

func TestRestoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp(t, dir)
	alice := connect(t, app, "alice", "wonder")
	id := createList(t, alice, "Groceries")
	alice.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	alice.deliver(fmt.Sprintf(`{"type":"send","name":%q,"content":{"type":"insert","index":0,"attrs":{"text":"milk"}}}`, id))
	require.NoError(t, app.Flush())

	// a fresh process over the same storage
	restored := newTestApp(t, dir)
	assert.False(t, restored.IsDirty())

	alice2 := connect(t, restored, "alice", "wonder")
	alice2.deliver(`{"type":"send","name":"control","content":{"type":"get-lists"}}`)
	frames := alice2.drain(t)
	require.Len(t, frames, 1)
	content := frames[0]["content"].(map[string]any)
	assert.Equal(t, "Groceries", content["name"])
	assert.Equal(t, id, content["id"])

	alice2.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	frames = alice2.drain(t)
	require.Len(t, frames, 1)
	replay := frames[0]["content"].(map[string]any)
	assert.Equal(t, "milk", replay["attrs"].(map[string]any)["text"])

	// entitlements came back with the content
	bob := connect(t, restored, "bob", "builder")
	bob.deliver(fmt.Sprintf(`{"type":"join","name":%q}`, id))
	assert.Equal(t, "You are not allowed to join this channel.", bob.lastFrame(t)["message"])
}

func TestAddUserEntitlesControl(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	require.NoError(t, app.AddUser("carol", hash(t, "singer")))

	carol := &client{app: app, id: uuid.New()}
	app.dispatcher.Open(carol)
	carol.deliver(`{"type":"login","user":"carol","password":"singer"}`)
	require.Equal(t, "ok", carol.lastFrame(t)["status"])
	carol.deliver(`{"type":"join","name":"control"}`)
	// no error frame means the join landed
	assert.Equal(t, "ok", carol.lastFrame(t)["status"])
}

// Deleting a list races membership churn on both the control channel and the
// list's own channel. Destroy force-leaves subscribers while other sessions
// hold their own connection state mid-leave; the loop must drain without
// wedging.
func TestDeleteRacesMembershipChurn(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner := connect(t, app, "alice", "wonder")

	workers := make([]*client, 3)
	for i := range workers {
		workers[i] = connect(t, app, "alice", "wonder")
	}

	const rounds = 200
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			owner.deliver(`{"type":"send","name":"control","content":{"type":"create","name":"Scratch","id":"scratch"}}`)
			owner.deliver(`{"type":"join","name":"scratch"}`)
			owner.deliver(`{"type":"send","name":"control","content":{"type":"delete","id":"scratch"}}`)
		}
	}()
	for _, w := range workers {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				c.deliver(`{"type":"join","name":"scratch"}`)
				c.deliver(`{"type":"leave","name":"control"}`)
				c.deliver(`{"type":"join","name":"control"}`)
				c.deliver(`{"type":"leave","name":"scratch"}`)
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("delete and membership churn did not finish; lock ordering regressed")
	}
}
