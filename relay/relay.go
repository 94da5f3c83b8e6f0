// Package relay keeps real-time clients of every instance in sync. Client
// events that change shared state are applied to the state store and
// published on the bus; every instance, including the publisher, forwards
// what it receives from the bus to its locally connected clients.
package relay

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/state"
	"github.com/BranchIntl/relayq/store"
	"github.com/google/uuid"
)

// DefaultChannel is the bus channel shared by all instances
const DefaultChannel = "server:broker"

// Conn is one real-time client connection
type Conn interface {
	ReadEvent() (Event, error)
	WriteEvent(Event) error
	Close() error
}

// Options for the relay
type Options struct {
	// Channel is the bus channel
	Channel string

	// ClientBuffer is the number of events queued per client. Events for a
	// client whose queue is full are dropped.
	ClientBuffer int
}

// DefaultOptions returns default relay options
func DefaultOptions() Options {
	return Options{
		Channel:      DefaultChannel,
		ClientBuffer: 64,
	}
}

type client struct {
	id   string
	conn Conn
	send chan Event
}

// Relay bridges local clients and the bus
type Relay struct {
	bus     store.Bus
	state   *state.Store
	options Options
	id      string

	mu      sync.RWMutex
	clients map[string]*client

	sub    store.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a relay
func New(bus store.Bus, st *state.Store, options Options) *Relay {
	if options.Channel == "" {
		options.Channel = DefaultChannel
	}
	if options.ClientBuffer <= 0 {
		options.ClientBuffer = DefaultOptions().ClientBuffer
	}
	return &Relay{
		bus:     bus,
		state:   st,
		options: options,
		id:      uuid.NewString(),
		clients: make(map[string]*client),
	}
}

// ID returns the instance id of this relay
func (r *Relay) ID() string {
	return r.id
}

// Start subscribes to the bus and forwards received events to local clients
// until Close is called or ctx ends
func (r *Relay) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, r.options.Channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.options.Channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.sub = sub
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.receive(ctx, sub)
	}()

	slog.Info("Relay started", "instance", r.id, "channel", r.options.Channel)
	return nil
}

// Close stops the bus subscription and disconnects local clients
func (r *Relay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var err error
	if r.sub != nil {
		err = r.sub.Close()
	}
	r.wg.Wait()

	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*client)
	r.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		c.conn.Close()
	}

	slog.Info("Relay stopped", "instance", r.id)
	return err
}

func (r *Relay) receive(ctx context.Context, sub store.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() == nil {
					slog.Warn("Bus subscription ended, no longer relaying", "instance", r.id, "channel", r.options.Channel)
				}
				return
			}
			var ev Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				slog.Warn("Dropping malformed bus message", "channel", r.options.Channel, "error", err)
				continue
			}
			r.Broadcast(ev)
		}
	}
}

// Broadcast queues ev for every local client without blocking
func (r *Relay) Broadcast(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.clients {
		select {
		case c.send <- ev:
		default:
			slog.Warn("Client buffer full, dropping event", "client", c.id, "event", ev.Event)
		}
	}
}

// Publish sends ev to every instance
func (r *Relay) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.NewSerializationError("json", err)
	}
	return r.bus.Publish(ctx, r.options.Channel, data)
}

// HandleEvent applies a client event and publishes the result
func (r *Relay) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Event {
	case EventMessage:
		return r.Publish(ctx, Event{Event: EventServerMessage, Data: ev.Data})

	case EventCheckboxUpdate:
		index, value, err := decodeCheckboxUpdate(ev.Data)
		if err != nil {
			return err
		}

		size, err := r.state.Len(ctx)
		if err != nil {
			return err
		}
		if index < 0 || index >= size {
			return errors.NewValidationError(errors.ValidationDetail{
				Field:   "index",
				Message: fmt.Sprintf("must be in [0, %d)", size),
				Value:   index,
			})
		}

		err = r.state.SetIndex(ctx, index, value)
		if stdErrors.Is(err, errors.ErrStateNotInitialized) {
			slog.Warn("State array missing, relaying update without storing it", "index", index)
		} else if err != nil {
			return err
		}

		return r.Publish(ctx, ev)

	default:
		return errors.NewValidationError(errors.ValidationDetail{
			Field:   "event",
			Message: "unknown event",
			Value:   ev.Event,
		})
	}
}

// Serve registers conn as a local client and handles its events until the
// connection fails. The connection is closed on return.
func (r *Relay) Serve(ctx context.Context, conn Conn) error {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Event, r.options.ClientBuffer),
	}

	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
	slog.Info("Client connected", "client", c.id, "instance", r.id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range c.send {
			if err := conn.WriteEvent(ev); err != nil {
				slog.Debug("Client write failed", "client", c.id, "error", err)
				conn.Close()
				// drain so Broadcast never blocks on this client
				for range c.send {
				}
				return
			}
		}
	}()

	var readErr error
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			readErr = err
			break
		}

		if err := r.HandleEvent(ctx, ev); err != nil {
			if errors.IsValidation(err) {
				slog.Debug("Rejected client event", "client", c.id, "event", ev.Event, "error", err)
			} else {
				slog.Error("Failed to handle client event", "client", c.id, "event", ev.Event, "error", err)
			}
			r.reply(c, err)
		}
	}

	if r.remove(c.id) {
		close(c.send)
	}
	<-writerDone
	conn.Close()

	slog.Info("Client disconnected", "client", c.id, "instance", r.id)
	return readErr
}

// Clients returns the number of connected local clients
func (r *Relay) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Relay) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

func (r *Relay) reply(c *client, cause error) {
	ev, err := NewEvent(EventError, map[string]string{"message": cause.Error()})
	if err != nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- ev:
	default:
	}
}
