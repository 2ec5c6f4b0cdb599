// Package events publishes committed wizard transitions to a message broker
// so other services can follow a session.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/jonathan/resume-tailor/internal/wizard"
)

// DefaultExchange is the topic exchange session updates are published to.
const DefaultExchange = "session_updates"

// Message is the JSON body of one published event.
type Message struct {
	SessionID string          `json:"session_id"`
	Op        string          `json:"op"`
	From      wizard.Step     `json:"from"`
	To        wizard.Step     `json:"to"`
	Fragment  string          `json:"fragment"`
	State     json.RawMessage `json:"state"`
	At        time.Time       `json:"at"`
}

// NewMessage builds the message for a controller event.
func NewMessage(sessionID string, e wizard.Event) (Message, error) {
	msg := Message{
		SessionID: sessionID,
		Op:        e.Op,
		From:      e.From,
		To:        e.To,
		Fragment:  e.To.Fragment(),
		At:        time.Now().UTC(),
	}
	state, err := json.Marshal(e.State)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode state: %w", err)
	}
	msg.State = state
	return msg, nil
}

// RoutingKey is the topic key for a session.
func RoutingKey(sessionID string) string {
	return "session." + sessionID
}

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Observer returns a wizard observer that publishes the committed events of
// one session; rejected and failed operations are skipped. Publish failures
// are logged and never affect the controller.
func Observer(sessionID string, p Publisher) wizard.Observer {
	return wizard.ObserverFunc(func(e wizard.Event) {
		if e.Err != nil {
			return
		}
		msg, err := NewMessage(sessionID, e)
		if err == nil {
			err = p.Publish(context.Background(), msg)
		}
		if err != nil {
			log.Printf("[events] failed to publish %s for session %s: %v", e.Op, sessionID, err)
		}
	})
}

// NoopPublisher discards messages.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Message) error { return nil }

func (NoopPublisher) Close() error { return nil }

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes to a topic exchange over one channel.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// DialAMQP connects to url and declares exchange as a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends msg with routing key session.<id>. amqp channels are not
// safe for concurrent publishing, so calls are serialized.
func (p *AMQPPublisher) Publish(_ context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Publish(p.exchange, RoutingKey(msg.SessionID), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.At,
		Type:         msg.Op,
		Body:         body,
	})
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
