// Package ingest feeds the work queue from an AMQP topic. Upstream
// collectors publish batches of store UIDs; the consumer inserts them as
// pending work items, letting database uniqueness drop duplicates.
package ingest

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/streadway/amqp"

	"github.com/odong444/cap-api/internal/farm"
	"github.com/odong444/cap-api/internal/observability"
	"github.com/odong444/cap-api/internal/state"
)

const (
	defaultQueue     = "cap.uids"
	reconnectBackoff = 5 * time.Second
)

// Message is the shape collectors publish: one batch of UIDs, optionally
// tagged with the keyword that produced them.
type Message struct {
	Keyword string `json:"keyword,omitempty"`
	UIDs    []UID  `json:"uids"`
}

type UID struct {
	UID       string `json:"uid"`
	StoreName string `json:"store_name,omitempty"`
	StoreURL  string `json:"store_url,omitempty"`
}

type Consumer struct {
	engine *farm.Engine
	url    string
	queue  string
}

func NewConsumer(engine *farm.Engine, url, queue string) *Consumer {
	if queue == "" {
		queue = defaultQueue
	}
	return &Consumer{engine: engine, url: url, queue: queue}
}

// Run consumes until the context is canceled, redialing on broker loss.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if err := c.consumeOnce(ctx); err != nil {
			log.Printf("ingest: consumer stopped: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.Qos(8, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	log.Printf("ingest: consuming from %s", c.queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(d)
		}
	}
}

func (c *Consumer) handle(d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Printf("ingest: drop malformed message: %v", err)
		_ = d.Nack(false, false)
		return
	}
	items := make([]state.WorkItemRecord, 0, len(msg.UIDs))
	for _, u := range msg.UIDs {
		items = append(items, state.WorkItemRecord{
			UID:       u.UID,
			StoreName: u.StoreName,
			StoreURL:  u.StoreURL,
			Keyword:   msg.Keyword,
		})
	}
	if len(items) == 0 {
		_ = d.Ack(false)
		return
	}
	added, err := c.engine.AddWorkItems(items)
	if err != nil {
		// Store trouble: requeue so the batch is not lost.
		log.Printf("ingest: insert batch: %v", err)
		_ = d.Nack(false, true)
		return
	}
	observability.Default.IncCounter("ingest_uids_total", nil, float64(added))
	_ = d.Ack(false)
}
