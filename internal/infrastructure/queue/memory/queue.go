package memory

import (
	"context"
	"sync"

	"github.com/mwhitmore/docuvault/internal/core/ports"
)

// Subject names mirror the durable transport so logs read the same in tests
// and in deployments.
const (
	SubjectObjectCreated      = "documents.object-created"
	SubjectProcessingRequests = "documents.processing-requests"
	SubjectProcessingResults  = "documents.processing-results"
	SubjectDeadLetter         = "documents.dead-letter"
)

const defaultMaxDeliver = 5

// DeadLetter is a message that exhausted its delivery attempts.
type DeadLetter struct {
	Subject string
	Data    []byte
}

// Queue is an in-memory at-least-once message queue for tests and local
// development. Delivery is synchronous: Publish invokes the registered
// handler inline and honors ack, nak and term the way the durable transport
// does, redelivering nak'd and unacknowledged messages up to the delivery
// limit before dead-lettering them.
type Queue struct {
	mu         sync.Mutex
	maxDeliver int
	handlers   map[string]ports.DeliveryHandler
	buffered   map[string][][]byte
	results    [][]byte
	dead       []DeadLetter
}

func New() *Queue {
	return &Queue{
		maxDeliver: defaultMaxDeliver,
		handlers:   make(map[string]ports.DeliveryHandler),
		buffered:   make(map[string][][]byte),
	}
}

// WithMaxDeliver overrides the delivery limit. Values below one are ignored.
func (q *Queue) WithMaxDeliver(n int) *Queue {
	if n >= 1 {
		q.maxDeliver = n
	}
	return q
}

func (q *Queue) PublishObjectCreated(ctx context.Context, payload []byte) error {
	return q.publish(ctx, SubjectObjectCreated, payload)
}

func (q *Queue) PublishProcessingRequest(ctx context.Context, payload []byte) error {
	return q.publish(ctx, SubjectProcessingRequests, payload)
}

// PublishProcessingResult records the result event; nothing inside the
// pipeline consumes it, downstream systems do.
func (q *Queue) PublishProcessingResult(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, append([]byte(nil), payload...))
	return nil
}

func (q *Queue) SubscribeObjectCreated(ctx context.Context, handler ports.DeliveryHandler) error {
	return q.subscribe(ctx, SubjectObjectCreated, handler)
}

func (q *Queue) SubscribeProcessingRequests(ctx context.Context, handler ports.DeliveryHandler) error {
	return q.subscribe(ctx, SubjectProcessingRequests, handler)
}

// PublishedResults returns the processing-result events observed so far.
func (q *Queue) PublishedResults() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.results))
	copy(out, q.results)
	return out
}

// DeadLetters returns the messages that exhausted their delivery attempts.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	data := append([]byte(nil), payload...)

	q.mu.Lock()
	handler, ok := q.handlers[subject]
	if !ok {
		q.buffered[subject] = append(q.buffered[subject], data)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	q.deliver(ctx, subject, handler, data)
	return nil
}

func (q *Queue) subscribe(ctx context.Context, subject string, handler ports.DeliveryHandler) error {
	q.mu.Lock()
	q.handlers[subject] = handler
	pending := q.buffered[subject]
	q.buffered[subject] = nil
	q.mu.Unlock()

	for _, data := range pending {
		q.deliver(ctx, subject, handler, data)
	}

	<-ctx.Done()
	return nil
}

// deliver runs the handler until the message is acked or termed, redelivering
// up to the limit. An unacknowledged message counts as an expired ack wait and
// is redelivered too.
func (q *Queue) deliver(ctx context.Context, subject string, handler ports.DeliveryHandler, data []byte) {
	for attempt := uint64(1); attempt <= uint64(q.maxDeliver); attempt++ {
		d := &delivery{data: data, numDelivered: attempt}
		handler(ctx, d)
		if d.acked || d.termed {
			return
		}
	}

	q.mu.Lock()
	q.dead = append(q.dead, DeadLetter{Subject: subject, Data: data})
	q.mu.Unlock()
}

type delivery struct {
	data         []byte
	numDelivered uint64
	acked        bool
	naked        bool
	termed       bool
}

func (d *delivery) Data() []byte { return d.data }

func (d *delivery) Ack() error {
	d.acked = true
	return nil
}

func (d *delivery) Nak() error {
	d.naked = true
	return nil
}

func (d *delivery) Term() error {
	d.termed = true
	return nil
}

func (d *delivery) NumDelivered() uint64 { return d.numDelivered }
