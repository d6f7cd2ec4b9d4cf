// Package messaging provides a NATS client wrapper for the relay's pub/sub
// backbone. It handles connection lifecycle, subject-based subscriptions, and
// convenience methods for the per-hall presence and chat subjects and the
// per-booth chat subjects.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject patterns for the fan-out backbone. Every event is scoped to exactly
// one hall or booth; events never cross scopes.
const (
	SubjectHall     = "hall"      // + .<hall_id>   (presence: JOIN/UPDATE/LEAVE)
	SubjectHallChat = "hall.chat" // + .<hall_id>   (hall chat)
	SubjectBooth    = "booth"     // + .<booth_id>  (booth chat)
)

// HallSubject returns the presence subject for a hall.
func HallSubject(hallID int64) string {
	return fmt.Sprintf("%s.%d", SubjectHall, hallID)
}

// HallChatSubject returns the chat subject for a hall.
func HallChatSubject(hallID int64) string {
	return fmt.Sprintf("%s.%d", SubjectHallChat, hallID)
}

// BoothSubject returns the chat subject for a booth.
func BoothSubject(boothID int64) string {
	return fmt.Sprintf("%s.%d", SubjectBooth, boothID)
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "expogarden-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails; after that,
// reconnects are automatic with backoff and in-flight publishes during an
// outage are dropped rather than retried.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject. Publishes are fire-and-forget
// from the caller's viewpoint; NATS guarantees per-publisher FIFO on a
// subject, which is all the hall reconciliation model requires.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishHallEvent publishes a presence event body to the hall.<hallID> subject.
func (c *NATSClient) PublishHallEvent(hallID int64, data []byte) error {
	return c.Publish(HallSubject(hallID), data)
}

// PublishHallChat publishes a chat event body to the hall.chat.<hallID> subject.
func (c *NATSClient) PublishHallChat(hallID int64, data []byte) error {
	return c.Publish(HallChatSubject(hallID), data)
}

// PublishBoothChat publishes a chat event body to the booth.<boothID> subject.
func (c *NATSClient) PublishBoothChat(boothID int64, data []byte) error {
	return c.Publish(BoothSubject(boothID), data)
}

// SubscribeHall subscribes a session to the presence subject of a hall. The
// subscription is keyed by session ID so that many connections on the same
// relay instance can subscribe to the same hall without overwriting each
// other.
func (c *NATSClient) SubscribeHall(hallID int64, sessionID string, handler func(data []byte)) error {
	return c.subscribe(HallSubject(hallID), "hallsub:"+sessionID, handler)
}

// UnsubscribeHall removes a session's hall presence subscription.
func (c *NATSClient) UnsubscribeHall(sessionID string) error {
	return c.unsubscribe("hallsub:" + sessionID)
}

// SubscribeHallChat subscribes a session to the chat subject of a hall.
func (c *NATSClient) SubscribeHallChat(hallID int64, sessionID string, handler func(data []byte)) error {
	return c.subscribe(HallChatSubject(hallID), "hallchatsub:"+sessionID, handler)
}

// UnsubscribeHallChat removes a session's hall chat subscription.
func (c *NATSClient) UnsubscribeHallChat(sessionID string) error {
	return c.unsubscribe("hallchatsub:" + sessionID)
}

// SubscribeBooth subscribes a session to the chat subject of a booth.
func (c *NATSClient) SubscribeBooth(boothID int64, sessionID string, handler func(data []byte)) error {
	return c.subscribe(BoothSubject(boothID), "boothsub:"+sessionID, handler)
}

// UnsubscribeBooth removes a session's booth chat subscription.
func (c *NATSClient) UnsubscribeBooth(sessionID string) error {
	return c.unsubscribe("boothsub:" + sessionID)
}

// subscribe registers a handler for a subject under the given key and stores
// the subscription internally for later cleanup. If the key already holds a
// subscription (e.g. a client re-joins a hall without leaving the previous
// one), the old subscription is unsubscribed first.
func (c *NATSClient) subscribe(subject string, key string, handler func(data []byte)) error {
	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		delete(c.subs, key)
		if err := old.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe stale %s: %v", key, err)
		}
	}
	c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes and unsubscribes the subscription stored under key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
