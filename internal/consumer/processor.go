// Package consumer pulls raw-event notifications off Kafka and feeds them to
// the normalization pipeline.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader is the subset of kafka.Reader the processor depends on.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler consumes decoded messages. Handlers must be idempotent: offsets are
// committed only after Handle returns nil, so a crash replays the message.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded Kafka record as framed by the outbox dispatcher.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	UserID        string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// Processor drives a fetch/handle/commit loop over a single Kafka reader.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until the context is cancelled, processing one message at a
// time. Fetch errors are logged and retried; decode and handler outcomes are
// settled per message in step.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		p.step(ctx, msg)
	}
}

// step settles a single fetched message. A message that cannot be decoded is
// committed anyway: the raw event log in Postgres is the source of truth, and
// an uncommittable record would wedge the partition.
func (p *Processor) step(ctx context.Context, msg kafka.Message) {
	event, err := decodeRecord(msg)
	if err != nil {
		p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
		recordDecodeError(msg.Topic)
		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error after decode failure: %v", commitErr)
		}
		return
	}

	if err := p.handler.Handle(ctx, event); err != nil {
		p.logger.Printf("handler error (event_type=%s, user=%s): %v", event.EventType, event.UserID, err)
		recordHandlerError(event)
		return
	}

	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Printf("commit error: %v", err)
		return
	}
	recordProcessed(event)
}

// decodeRecord unpacks the schema-registry wire framing (magic byte plus a
// big-endian schema id) and the routing headers set by the dispatcher.
func decodeRecord(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 {
		return Message{}, fmt.Errorf("invalid payload length: %d", len(msg.Value))
	}

	eventType, ok := header(msg, "event_type")
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	userID, _ := header(msg, "user_id")
	schemaSubject, _ := header(msg, "schema_subject")

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		UserID:        string(userID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}

func header(msg kafka.Message, key string) ([]byte, bool) {
	for _, h := range msg.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}
