package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/infrastructure/resilience"
)

// Subjects on the documents stream.
const (
	SubjectObjectCreated      = "documents.object-created"
	SubjectProcessingRequests = "documents.processing-requests"
	SubjectProcessingResults  = "documents.processing-results"
	SubjectDeadLetter         = "documents.dead-letter"
)

// Durable consumer names. Each subject has one work-sharing consumer group.
const (
	durableScanWorkers       = "scan-workers"
	durableProcessingWorkers = "processing-workers"
)

type Config struct {
	URL        string
	StreamName string

	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int

	// AckWait is how long a delivery may stay unacknowledged before the
	// server redelivers it.
	AckWait time.Duration
	// MaxDeliver caps delivery attempts per message; exhausted messages are
	// forwarded to the dead-letter subject.
	MaxDeliver int
	// Backoff spaces out redeliveries of nak'd messages.
	Backoff []time.Duration
}

func (c *Config) applyDefaults() {
	if c.StreamName == "" {
		c.StreamName = "DOCUMENTS"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 60
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if len(c.Backoff) == 0 {
		c.Backoff = []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 5 * time.Minute}
	}
}

// Queue is the JetStream-backed message queue. One stream carries all four
// pipeline subjects; consumers are durable and explicitly acknowledged so the
// transport, not the workers, owns redelivery and dead-lettering.
type Queue struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	cfg      Config
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(ctx context.Context, cfg Config, executor *resilience.Executor, logger *slog.Logger) (*Queue, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("docuvault"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name: cfg.StreamName,
		Subjects: []string{
			SubjectObjectCreated,
			SubjectProcessingRequests,
			SubjectProcessingResults,
			SubjectDeadLetter,
		},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
	}

	return &Queue{
		conn:     conn,
		js:       js,
		stream:   stream,
		cfg:      cfg,
		executor: executor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishObjectCreated(ctx context.Context, payload []byte) error {
	return q.publish(ctx, SubjectObjectCreated, payload)
}

func (q *Queue) PublishProcessingRequest(ctx context.Context, payload []byte) error {
	return q.publish(ctx, SubjectProcessingRequests, payload)
}

func (q *Queue) PublishProcessingResult(ctx context.Context, payload []byte) error {
	return q.publish(ctx, SubjectProcessingResults, payload)
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(callCtx context.Context) error {
		if _, err := q.js.Publish(callCtx, subject, payload); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (q *Queue) SubscribeObjectCreated(ctx context.Context, handler ports.DeliveryHandler) error {
	return q.subscribe(ctx, SubjectObjectCreated, durableScanWorkers, handler)
}

func (q *Queue) SubscribeProcessingRequests(ctx context.Context, handler ports.DeliveryHandler) error {
	return q.subscribe(ctx, SubjectProcessingRequests, durableProcessingWorkers, handler)
}

func (q *Queue) subscribe(ctx context.Context, subject, durable string, handler ports.DeliveryHandler) error {
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
		BackOff:       q.cfg.Backoff,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if ctx.Err() != nil {
			return
		}
		handler(ctx, &delivery{msg: msg})
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", subject, err)
	}

	<-ctx.Done()
	cc.Drain()
	return nil
}

// maxDeliveriesAdvisory is the server advisory emitted when a message runs
// out of delivery attempts.
type maxDeliveriesAdvisory struct {
	Stream     string `json:"stream"`
	Consumer   string `json:"consumer"`
	StreamSeq  uint64 `json:"stream_seq"`
	Deliveries int    `json:"deliveries"`
}

// RunDeadLetterForwarder copies messages that exhausted their deliveries onto
// the dead-letter subject, where they survive for operator inspection and
// replay. It blocks until ctx is done.
func (q *Queue) RunDeadLetterForwarder(ctx context.Context) error {
	advisorySubject := fmt.Sprintf("$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.%s.>", q.cfg.StreamName)

	sub, err := q.conn.Subscribe(advisorySubject, func(msg *nats.Msg) {
		var adv maxDeliveriesAdvisory
		if err := json.Unmarshal(msg.Data, &adv); err != nil {
			q.logger.Error("malformed max-deliveries advisory", "error", err)
			return
		}
		raw, err := q.stream.GetMsg(ctx, adv.StreamSeq)
		if err != nil {
			q.logger.Error("fetch exhausted message",
				"stream_seq", adv.StreamSeq, "consumer", adv.Consumer, "error", err)
			return
		}
		if _, err := q.js.Publish(ctx, SubjectDeadLetter, raw.Data); err != nil {
			q.logger.Error("forward to dead letter", "stream_seq", adv.StreamSeq, "error", err)
			return
		}
		q.logger.Warn("message dead-lettered",
			"subject", raw.Subject, "consumer", adv.Consumer, "deliveries", adv.Deliveries)
	})
	if err != nil {
		return fmt.Errorf("subscribe advisories: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain advisory subscription: %w", err)
	}
	return nil
}

type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Data() []byte { return d.msg.Data() }

func (d *delivery) Ack() error { return d.msg.Ack() }

func (d *delivery) Nak() error { return d.msg.Nak() }

func (d *delivery) Term() error { return d.msg.Term() }

func (d *delivery) NumDelivered() uint64 {
	md, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}
