// internal/feed/rabbit.go
package feed

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"chat-sync/internal/model"
)

// exchangeName is the topic exchange all row-level change events flow through.
// Routing key is chat.<chat id>, so one subscription sees exactly one chat.
const exchangeName = "chat.changes"

type FeedClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	URL     string
}

func NewFeedClient(url string) (*FeedClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		false, // transient change notifications, not a work queue
		true,  // auto-delete
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &FeedClient{
		conn:    conn,
		channel: ch,
		URL:     url,
	}, nil
}

func (f *FeedClient) GetConnection() *amqp.Connection {
	return f.conn
}

// PublishChange emits one change event on the chat's routing key
func (f *FeedClient) PublishChange(chatID string, ev model.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	err = f.channel.Publish(
		exchangeName,
		routingKey(chatID),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish change for chat %s: %w", chatID, err)
	}
	return nil
}

// Close cleans up connection and channel
func (f *FeedClient) Close() error {
	if err := f.channel.Close(); err != nil {
		return err
	}
	if err := f.conn.Close(); err != nil {
		return err
	}
	return nil
}

func routingKey(chatID string) string {
	return "chat." + chatID
}
