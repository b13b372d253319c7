// internal/feed/subscription.go
package feed

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/streadway/amqp"

	"chat-sync/internal/metrics"
	"chat-sync/internal/model"
)

type EventHandlerFunc func(chatID string, ev model.ChangeEvent)

// Subscription holds control channels and metadata for one chat's running
// change feed consumer. After Stop returns, no further events are delivered.
type Subscription struct {
	ChatID      string
	Channel     *amqp.Channel
	QueueName   string
	StopChan    chan struct{}
	DoneChan    chan struct{}
	Handler     EventHandlerFunc
	ConsumerTag string

	// stopping is read by the supervisor while the broker may be dropping
	// the feed concurrently with a deliberate Stop
	stopping atomic.Bool
}

// Subscribe starts a goroutine that consumes change events for one chat.
// The queue is exclusive and auto-deleted, so a released subscription leaves
// nothing behind on the broker.
func (f *FeedClient) Subscribe(chatID string, handler EventHandlerFunc) (*Subscription, error) {
	ch, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("chat %s: failed to open channel: %w", chatID, err)
	}

	q, err := ch.QueueDeclare(
		"", // broker-named
		false,
		true, // auto-delete
		true, // exclusive
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("chat %s: failed to declare queue: %w", chatID, err)
	}

	if err := ch.QueueBind(q.Name, routingKey(chatID), exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("chat %s: failed to bind queue: %w", chatID, err)
	}

	consumerTag := fmt.Sprintf("feed-%s", chatID)
	msgs, err := ch.Consume(
		q.Name,
		consumerTag,
		true, // change events are fire-and-forget, no manual ack
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("chat %s: failed to start consuming: %w", chatID, err)
	}

	s := &Subscription{
		ChatID:      chatID,
		Channel:     ch,
		QueueName:   q.Name,
		StopChan:    make(chan struct{}),
		DoneChan:    make(chan struct{}),
		Handler:     handler,
		ConsumerTag: consumerTag,
	}

	metrics.OpenFeeds.Inc()
	go s.consumeLoop(msgs)

	log.Printf("[Feed] Subscribed to chat %s", chatID)
	return s, nil
}

// consumeLoop delivers events until StopChan is closed or the broker drops us
func (s *Subscription) consumeLoop(msgs <-chan amqp.Delivery) {
	defer func() {
		metrics.OpenFeeds.Dec()
		close(s.DoneChan)
	}()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				log.Printf("[Feed] Chat %s: delivery channel closed", s.ChatID)
				return
			}
			var ev model.ChangeEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				log.Printf("[Feed] Chat %s: dropping malformed event: %v", s.ChatID, err)
				continue
			}
			s.Handler(s.ChatID, ev)

		case <-s.StopChan:
			log.Printf("[Feed] Unsubscribing from chat %s...", s.ChatID)
			if s.Channel != nil {
				_ = s.Channel.Cancel(s.ConsumerTag, false)
			}
			return
		}
	}
}

// Done is closed once the consume loop has exited, deliberately or not
func (s *Subscription) Done() <-chan struct{} {
	return s.DoneChan
}

// Stopped reports whether Stop was requested, distinguishing a clean
// unsubscribe from a dropped feed that should be re-established.
func (s *Subscription) Stopped() bool {
	return s.stopping.Load()
}

// Stop signals the subscription to stop and waits for cleanup
func (s *Subscription) Stop() {
	s.stopping.Store(true)
	close(s.StopChan)
	<-s.DoneChan
	if s.Channel != nil {
		_ = s.Channel.Close()
	}
	log.Printf("[Feed] Unsubscribed from chat %s", s.ChatID)
}
