// Package messaging wraps the NATS connection used to hand work to
// external collaborators and to fan room broadcasts back in. Two subject
// families exist: push.notify.<user_id>, consumed by the external push
// notification service for participants with no live connection, and
// room.<room_id>, carrying broadcast frames for subscribed connections.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject prefixes.
const (
	SubjectPushNotify = "push.notify" // + .<user_id>
	SubjectRoom       = "room"        // + .<room_id>
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "social-core",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client wraps the NATS connection with helper methods for the subjects
// this service uses. Room subscriptions are keyed so that multiple
// connections on this process can follow the same room independently.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Connect establishes the NATS connection and returns a ready client.
func Connect(config Config) (*Client, error) {
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

	return &Client{conn: nc, subs: make(map[string]*nats.Subscription)}, nil
}

// PublishPushNotify hands a payload to the external push collaborator for
// the given user. Fire-and-forget: delivery mechanics are out of scope here.
func (c *Client) PublishPushNotify(userID string, data []byte) error {
	return c.conn.Publish(SubjectPushNotify+"."+userID, data)
}

// PublishRoom broadcasts data on the room's subject.
func (c *Client) PublishRoom(roomID string, data []byte) error {
	return c.conn.Publish(SubjectRoom+"."+roomID, data)
}

// SubscribeRoom subscribes to a room's broadcasts under the given key
// (typically the connection's user ID), so multiple local connections can
// follow the same room without clobbering each other's subscriptions.
// Subscribing a key to a room it already follows is a no-op; the existing
// subscription stays in place.
func (c *Client) SubscribeRoom(roomID, key string, handler func(data []byte)) error {
	mapKey := roomSubKey(roomID, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[mapKey]; ok {
		return nil
	}

	subject := SubjectRoom + "." + roomID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.subs[mapKey] = sub
	return nil
}

// UnsubscribeRoom drops one key's subscription to a room. Unsubscribing a
// room the key never joined is an error the caller may ignore.
func (c *Client) UnsubscribeRoom(roomID, key string) error {
	return c.unsubscribe(roomSubKey(roomID, key))
}

// UnsubscribeAll drops every subscription held under the given key. Called
// on disconnect so room subscriptions don't outlive the connection.
func (c *Client) UnsubscribeAll(key string) {
	suffix := ":" + key

	c.mu.Lock()
	var doomed []string
	for k := range c.subs {
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			doomed = append(doomed, k)
		}
	}
	subs := make([]*nats.Subscription, 0, len(doomed))
	for _, k := range doomed {
		subs = append(subs, c.subs[k])
		delete(c.subs, k)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe: %v", err)
		}
	}
}

// Close drains all subscriptions and the connection.
func (c *Client) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] client closed")
}

func (c *Client) unsubscribe(key string) error {
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

func roomSubKey(roomID, key string) string {
	return "room:" + roomID + ":" + key
}
