// Package rabbitmq implements the relay bus over RabbitMQ. Each channel is a
// fanout exchange and every subscription owns an exclusive auto-delete queue
// bound to it, so every instance receives every message.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/store"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitBus implements store.Bus for RabbitMQ
type RabbitBus struct {
	connection        *amqp.Connection
	channel           *amqp.Channel
	options           Options
	declaredExchanges map[string]bool
	subscriptions     map[*subscription]struct{}
	mu                sync.RWMutex
	notifyClose       chan *amqp.Error
	isConnected       bool
	closing           bool
}

var _ store.Bus = (*RabbitBus)(nil)

// NewBus creates a new RabbitMQ bus
func NewBus(options Options) *RabbitBus {
	if options.SubscriptionBuffer <= 0 {
		options.SubscriptionBuffer = DefaultOptions().SubscriptionBuffer
	}
	return &RabbitBus{
		options:           options,
		declaredExchanges: make(map[string]bool),
		subscriptions:     make(map[*subscription]struct{}),
	}
}

// Connect establishes connection to RabbitMQ
func (r *RabbitBus) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closing = false
	return r.connect(ctx)
}

// connect establishes the connection and publish channel.
// This method expects the caller to hold the lock
func (r *RabbitBus) connect(ctx context.Context) error {
	conn, err := amqp.Dial(r.options.URI)
	if err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("failed to connect to RabbitMQ: %w", err))
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("failed to open channel: %w", err))
	}

	r.connection = conn
	r.channel = ch
	r.declaredExchanges = make(map[string]bool)

	r.notifyClose = make(chan *amqp.Error, 1)
	r.connection.NotifyClose(r.notifyClose)
	r.isConnected = true

	if r.options.ReconnectEnabled {
		go r.handleReconnection(r.notifyClose)
	}

	return nil
}

func (r *RabbitBus) handleReconnection(notifyClose <-chan *amqp.Error) {
	err, ok := <-notifyClose
	if !ok || err == nil {
		return // Graceful shutdown
	}
	slog.Warn("Connection closed, reconnecting...", "error", err)

	r.mu.Lock()
	r.isConnected = false
	r.mu.Unlock()

	for {
		time.Sleep(r.options.ReconnectDelay)

		r.mu.Lock()
		if r.closing {
			r.mu.Unlock()
			return
		}
		err := r.connect(context.Background())
		r.mu.Unlock()

		if err != nil {
			slog.Warn("Reconnect failed", "error", err)
			continue
		}
		slog.Info("Reconnected to RabbitMQ")

		if err := r.restartSubscriptions(); err != nil {
			slog.Error("Failed to restart subscriptions after reconnection", "error", err)
			r.mu.Lock()
			r.dropConnection()
			r.mu.Unlock()
			continue
		}
		return
	}
}

// dropConnection closes the current connection so the next connect starts
// clean. A graceful close also ends that connection's reconnection watcher.
// This method expects the caller to hold the lock
func (r *RabbitBus) dropConnection() {
	r.isConnected = false
	if r.channel != nil {
		r.channel.Close()
		r.channel = nil
	}
	if r.connection != nil && !r.connection.IsClosed() {
		r.connection.Close()
	}
	r.connection = nil
	r.declaredExchanges = make(map[string]bool)
}

// Close closes every subscription and the connection
func (r *RabbitBus) Close() error {
	r.mu.Lock()
	r.closing = true
	subs := make([]*subscription, 0, len(r.subscriptions))
	for sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.isConnected = false
	if r.channel != nil {
		if err := r.channel.Close(); err != nil && err != amqp.ErrClosed {
			return err
		}
	}
	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}

// Health checks the RabbitMQ connection health
func (r *RabbitBus) Health() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.isConnected || r.connection == nil || r.connection.IsClosed() {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the bus type
func (r *RabbitBus) Type() string {
	return "rabbitmq"
}

// Publish sends message to the channel's fanout exchange
func (r *RabbitBus) Publish(ctx context.Context, channel string, message []byte) error {
	ch, err := r.getChannel()
	if err != nil {
		return err
	}

	exchange, err := r.ensureExchange(channel)
	if err != nil {
		return errors.NewBrokerError("declare_exchange", channel, err)
	}

	err = ch.PublishWithContext(
		ctx,      // context
		exchange, // exchange
		"",       // routing key (ignored by fanout)
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        message,
			Timestamp:   time.Now(),
		})
	if err != nil {
		return errors.NewBrokerError("publish", channel, err)
	}
	return nil
}

// Subscribe binds a fresh exclusive queue to the channel's exchange
func (r *RabbitBus) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	if _, err := r.getChannel(); err != nil {
		return nil, err
	}

	sub := &subscription{
		bus:      r,
		channel:  channel,
		messages: make(chan []byte, r.options.SubscriptionBuffer),
	}
	if err := r.consume(sub); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.subscriptions[sub] = struct{}{}
	r.mu.Unlock()

	return sub, nil
}

// consume opens a dedicated AMQP channel for sub and starts delivering
func (r *RabbitBus) consume(sub *subscription) error {
	exchange, err := r.ensureExchange(sub.channel)
	if err != nil {
		return errors.NewBrokerError("declare_exchange", sub.channel, err)
	}

	r.mu.RLock()
	conn := r.connection
	r.mu.RUnlock()
	if conn == nil {
		return errors.ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return errors.NewBrokerError("subscribe", sub.channel, err)
	}

	queue, err := ch.QueueDeclare(
		"",    // name (server generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		buildQueueArgs(r.options),
	)
	if err != nil {
		ch.Close()
		return errors.NewBrokerError("subscribe", sub.channel, err)
	}

	if err := ch.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		ch.Close()
		return errors.NewBrokerError("subscribe", sub.channel, err)
	}

	deliveries, err := ch.Consume(
		queue.Name, // queue
		"",         // consumer tag (auto-generated)
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		ch.Close()
		return errors.NewBrokerError("subscribe", sub.channel, err)
	}

	sub.mu.Lock()
	sub.amqpChannel = ch
	sub.mu.Unlock()

	sub.wg.Add(1)
	go sub.handleDeliveries(deliveries)
	return nil
}

func (r *RabbitBus) restartSubscriptions() error {
	r.mu.RLock()
	subs := make([]*subscription, 0, len(r.subscriptions))
	for sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		if err := r.consume(sub); err != nil {
			return fmt.Errorf("failed to resubscribe %s: %w", sub.channel, err)
		}
	}
	return nil
}

func (r *RabbitBus) removeSubscription(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, sub)
}

// getChannel returns the channel if connected, otherwise returns ErrNotConnected
func (r *RabbitBus) getChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.channel == nil || !r.isConnected {
		return nil, errors.ErrNotConnected
	}
	return r.channel, nil
}

// ensureExchange makes sure the fanout exchange of channel is declared
func (r *RabbitBus) ensureExchange(channel string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil {
		return "", errors.ErrNotConnected
	}

	name := exchangeName(r.options, channel)
	if r.declaredExchanges[name] {
		return name, nil // Already declared
	}

	err := r.channel.ExchangeDeclare(
		name,     // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return "", err
	}

	r.declaredExchanges[name] = true
	return name, nil
}

type subscription struct {
	bus      *RabbitBus
	channel  string
	messages chan []byte

	mu          sync.Mutex
	amqpChannel *amqp.Channel
	closed      bool
	wg          sync.WaitGroup
}

func (s *subscription) Messages() <-chan []byte {
	return s.messages
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ch := s.amqpChannel
	s.mu.Unlock()

	s.bus.removeSubscription(s)

	var err error
	if ch != nil {
		if closeErr := ch.Close(); closeErr != nil && closeErr != amqp.ErrClosed {
			err = closeErr
		}
	}
	s.wg.Wait()
	close(s.messages)
	return err
}

// handleDeliveries forwards message bodies until the AMQP channel closes
func (s *subscription) handleDeliveries(deliveries <-chan amqp.Delivery) {
	defer s.wg.Done()

	for delivery := range deliveries {
		select {
		case s.messages <- delivery.Body:
		default:
			slog.Warn("Subscription buffer full, dropping message", "channel", s.channel)
		}
	}
	slog.Debug("Delivery channel closed", "channel", s.channel)
}
