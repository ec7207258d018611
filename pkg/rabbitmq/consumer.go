/**
 * @description
 * Consumer side of the wallet event bus. Queues are bound to the wallet
 * events exchange by typed handler: payloads are decoded into the domain
 * event structs before dispatch, so workers never touch raw deliveries.
 * Malformed payloads are acknowledged and dropped; a handler returning
 * false re-queues the delivery.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - internal/domain: event payload types and routing keys.
 */
package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

// Consumer drains wallet engine events from the topic exchange.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// WalletEventHandlers holds the typed callbacks for a wallet event queue.
// Only the routing keys with a non-nil handler are bound. Each handler
// returns true to acknowledge the delivery and false to re-queue it.
type WalletEventHandlers struct {
	// Reconcile receives wallet.reconcile requests.
	Reconcile func(event domain.ReconcileWalletEvent) bool
	// Credited receives wallet.credited notifications.
	Credited func(event domain.WalletCreditedEvent) bool
	// TransactionSettled receives transaction.completed and
	// transaction.failed receipts.
	TransactionSettled func(event domain.TransactionEvent) bool
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWalletEvents declares queueName on the wallet events exchange,
// binds it to every routing key that has a handler, and dispatches decoded
// payloads from a background goroutine.
func (c *Consumer) ConsumeWalletEvents(queueName string, handlers WalletEventHandlers) error {
	keys := boundKeys(handlers)
	if len(keys) == 0 {
		return fmt.Errorf("no event handlers provided")
	}

	if err := c.ch.ExchangeDeclare(WalletEventsExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := c.ch.QueueBind(q.Name, key, WalletEventsExchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			if dispatchWalletEvent(handlers, d.RoutingKey, d.Body) {
				d.Ack(false)
			} else {
				log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed, re-queuing\" routing_key=%s", d.RoutingKey)
				d.Nack(false, true)
			}
		}
	}()

	return nil
}

func boundKeys(h WalletEventHandlers) []string {
	var keys []string
	if h.Reconcile != nil {
		keys = append(keys, domain.EventWalletReconcile)
	}
	if h.Credited != nil {
		keys = append(keys, domain.EventWalletCredited)
	}
	if h.TransactionSettled != nil {
		keys = append(keys, domain.EventTransactionCompleted, domain.EventTransactionFailed)
	}
	return keys
}

// dispatchWalletEvent decodes the payload for its routing key and invokes
// the matching handler. Returns true when the delivery should be
// acknowledged: handled successfully, malformed, or unroutable.
func dispatchWalletEvent(h WalletEventHandlers, routingKey string, body []byte) bool {
	switch routingKey {
	case domain.EventWalletReconcile:
		if h.Reconcile == nil {
			break
		}
		var event domain.ReconcileWalletEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("level=error component=rabbitmq_consumer msg=\"reconcile event decode failed, dropping\" err=%v", err)
			return true
		}
		return h.Reconcile(event)
	case domain.EventWalletCredited:
		if h.Credited == nil {
			break
		}
		var event domain.WalletCreditedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("level=error component=rabbitmq_consumer msg=\"credited event decode failed, dropping\" err=%v", err)
			return true
		}
		return h.Credited(event)
	case domain.EventTransactionCompleted, domain.EventTransactionFailed:
		if h.TransactionSettled == nil {
			break
		}
		var event domain.TransactionEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("level=error component=rabbitmq_consumer msg=\"transaction event decode failed, dropping\" err=%v", err)
			return true
		}
		return h.TransactionSettled(event)
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key, dropping\" routing_key=%s", routingKey)
	return true
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
