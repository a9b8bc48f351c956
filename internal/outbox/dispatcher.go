// Package outbox stores pending event notifications alongside their source
// rows and delivers them to Kafka after commit.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is one pending outbox row.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher polls the outbox table and publishes claimed rows to Kafka with
// Confluent wire framing. Rows that cannot be delivered are parked in the DLQ
// and still marked published, so the poller never stalls on a bad batch.
type Dispatcher struct {
	pool      *pgxpool.Pool
	producer  messageWriter
	registry  schemaRegistrar
	dlq       *DLQWriter
	poll      time.Duration
	batchSize int
	schemaIDs sync.Map
	stopped   chan struct{}
}

func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, poll time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		producer:  producer,
		registry:  registry,
		dlq:       NewDLQWriter(pool),
		poll:      poll,
		batchSize: batchSize,
		stopped:   make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled. Call it in a
// goroutine and use Wait to observe shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.poll)
	defer func() {
		ticker.Stop()
		close(d.stopped)
	}()

	for {
		if err := d.drainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[outbox] dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the Start loop has exited.
func (d *Dispatcher) Wait() {
	<-d.stopped
}

func (d *Dispatcher) drainOnce(ctx context.Context) error {
	start := time.Now()

	batch, err := d.claimBatch(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	defer observeBatch(start)

	if err := d.publish(ctx, batch); err != nil {
		log.Printf("[outbox] delivery failure: %v", err)
		failedCounter.Add(float64(len(batch)))
		if dlqErr := d.parkFailed(ctx, batch, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return d.settle(ctx, batch)
	}

	deliveredCounter.Add(float64(len(batch)))
	return d.settle(ctx, batch)
}

// claimBatch selects unpublished rows with SKIP LOCKED so concurrent
// dispatchers never double-claim, and stamps claimed_at inside the same tx.
func (d *Dispatcher) claimBatch(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []Message
	var ids []int64
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			return nil, err
		}
		batch = append(batch, msg)
		ids = append(ids, msg.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

// publish frames every row and writes them grouped per topic. The partition
// key is the user id, which keeps a user's events ordered within a topic; the
// same id travels as a header so consumers can route without unframing.
func (d *Dispatcher) publish(ctx context.Context, batch []Message) error {
	perTopic := make(map[string][]kafka.Message)

	for _, msg := range batch {
		schemaID, err := d.schemaIDFor(ctx, msg)
		if err != nil {
			return err
		}

		perTopic[msg.Topic] = append(perTopic[msg.Topic], kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: frame(schemaID, []byte(msg.Payload)),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
				{Key: "user_id", Value: []byte(msg.PartitionKey)},
				{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			},
		})
	}

	for topic, msgs := range perTopic {
		if err := d.producer.WriteMessages(ctx, topic, msgs...); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) schemaIDFor(ctx context.Context, msg Message) (int, error) {
	schema, ok := eventSchemas[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema registered for event_type=%s", msg.EventType)
	}

	key := msg.SchemaSubject + "::" + msg.EventType
	if cached, ok := d.schemaIDs.Load(key); ok {
		return cached.(int), nil
	}

	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDs.Store(key, id)
	return id, nil
}

func (d *Dispatcher) settle(ctx context.Context, batch []Message) error {
	ids := make([]int64, 0, len(batch))
	for _, msg := range batch {
		ids = append(ids, msg.EventID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

func (d *Dispatcher) parkFailed(ctx context.Context, batch []Message, reason string) error {
	for _, msg := range batch {
		if err := d.dlq.Write(ctx, msg, fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// frame prepends the Confluent wire header: magic byte 0 plus the big-endian
// schema id.
func frame(schemaID int, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = 0
	binary.BigEndian.PutUint32(out[1:5], uint32(schemaID))
	copy(out[5:], payload)
	return out
}

// eventSchemas maps outbox event types to their JSON schema definitions.
var eventSchemas = map[string]string{
	"raw.event.received": rawEventReceivedSchema,
}
