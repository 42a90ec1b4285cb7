package channel

import (
	"log/slog"
	"sync"

	"github.com/emdash/todoserver/internal/fault"
)

// Registry is the process-wide channel table shared by every connection.
// It is owned by the server and passed by reference at construction.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		logger:   logger.With(slog.String("component", "channel_registry")),
	}
}

// Add registers the channel. Owners are entitled immediately, so the creator
// of a list can join it without a separate grant.
func (r *Registry) Add(ch *Channel, owners ...string) {
	for _, owner := range owners {
		ch.Entitle(owner)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
	r.logger.Debug("Channel registered", slog.String("channel", ch.Name()))
}

func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Destroy broadcasts a destroy notice, force-leaves every subscriber through
// its own bookkeeping, and removes the channel from the table. The registry
// mutex is held throughout, so a join arriving mid-teardown either misses
// the table entry or finds the channel already marked dead; it can never
// race onto a half-removed channel.
func (r *Registry) Destroy(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return fault.NotFound("Invalid channel name.")
	}
	for _, sub := range ch.shutdown() {
		sub.ForceLeave(ch)
	}
	delete(r.channels, name)
	r.logger.Debug("Channel destroyed", slog.String("channel", name))
	return nil
}
