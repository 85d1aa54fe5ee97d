package transport

import (
	"context"
	"fmt"
	"sync"
)

// Router dispatches replies to the deliverer registered for their channel.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Deliverer
	fetchers map[string]MediaFetcher
}

func NewRouter() *Router {
	return &Router{
		channels: make(map[string]Deliverer),
		fetchers: make(map[string]MediaFetcher),
	}
}

// Register binds a channel name to its deliverer. If d also implements
// MediaFetcher it is used to resolve media ids for that channel.
func (r *Router) Register(channel string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel] = d
	if f, ok := d.(MediaFetcher); ok {
		r.fetchers[channel] = f
	}
}

func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	return out
}

func (r *Router) Deliver(ctx context.Context, reply Reply) error {
	r.mu.RLock()
	d, ok := r.channels[reply.Channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no deliverer for channel %q", ErrDelivery, reply.Channel)
	}
	return d.Deliver(ctx, reply)
}

// Fetch resolves media for channel.
func (r *Router) Fetch(ctx context.Context, channel, mediaID string) ([]byte, string, error) {
	r.mu.RLock()
	f, ok := r.fetchers[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("no media fetcher for channel %q", channel)
	}
	return f.FetchMedia(ctx, mediaID)
}
