package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/ingest-dispatch/pkg/natsutil"
)

// Conn is the minimal transport surface Client needs. natsConn implements
// it against a real NATS server; tests use an in-memory fake instead of
// dialing a live broker.
type Conn interface {
	Ping() error
	PublishWorkQueue(subject string, data []byte) error
	FetchWorkQueue(ctx context.Context, subject string) ([]byte, error)
	SubscribeResponse(subject string) (ResponseSub, error)
	Close() error
}

// ResponseSub is a live subscription on one job's response channel.
type ResponseSub interface {
	// Next blocks until a message arrives, timeout elapses, or ctx is
	// cancelled, whichever comes first.
	Next(ctx context.Context, timeout time.Duration) ([]byte, error)
	// Unsubscribe tears the subscription down. A publish to the subject
	// after Unsubscribe is never received by anyone — this is how the
	// response channel's TTL-on-delete semantics are realized on NATS,
	// which has no native per-subject expiry.
	Unsubscribe() error
}

const (
	streamName    = "task_queue"
	consumerName  = "task-dispatch"
	taskQueueSubj = "task_queue"
)

// natsConn is the real Conn, backed by a core NATS connection plus a
// JetStream work-queue stream for task_queue.
type natsConn struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	sub *nats.Subscription // pull consumer bound to the task_queue stream
}

// dial connects to url, provisions the task_queue JetStream stream and pull
// consumer if absent, and returns a ready natsConn.
func dial(url string) (*natsConn, error) {
	nc, err := nats.Connect(url, nats.Name("ingest-dispatch"))
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrTransient, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream: %v", ErrTransient, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{taskQueueSubj},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("%w: add stream: %v", ErrTransient, err)
	}

	sub, err := js.PullSubscribe(taskQueueSubj, consumerName, nats.BindStream(streamName))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: pull subscribe: %v", ErrTransient, err)
	}

	return &natsConn{nc: nc, js: js, sub: sub}, nil
}

func (c *natsConn) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("%w: not connected", ErrTransient)
	}
	return nil
}

func (c *natsConn) PublishWorkQueue(subject string, data []byte) error {
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrTransient, err)
	}
	return nil
}

func (c *natsConn) FetchWorkQueue(ctx context.Context, subject string) ([]byte, error) {
	deadline := 30 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	msgs, err := c.sub.Fetch(1, nats.MaxWait(deadline))
	if err != nil {
		if err == nats.ErrTimeout {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: fetch: %v", ErrTransient, err)
	}
	msg := msgs[0]
	if err := msg.Ack(); err != nil {
		return nil, fmt.Errorf("%w: ack: %v", ErrTransient, err)
	}
	return msg.Data, nil
}

// SubscribeResponse subscribes to a job's response_<job_id> subject via
// natsutil.Subscribe, which extracts any OTel trace context a worker
// propagated alongside its reply and decodes the JSON body into a
// json.RawMessage (a byte-for-byte passthrough, since the payload is
// already a jobspec.Result envelope). Deliveries are buffered onto a
// channel so Next can apply its own timeout/ctx semantics on top of the
// subscription's asynchronous callback.
func (c *natsConn) SubscribeResponse(subject string) (ResponseSub, error) {
	ch := make(chan []byte, 1)
	sub, err := natsutil.Subscribe[json.RawMessage](c.nc, subject, func(_ context.Context, data json.RawMessage) {
		select {
		case ch <- []byte(data):
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe response: %v", ErrTransient, err)
	}
	return &natsResponseSub{sub: sub, ch: ch}, nil
}

func (c *natsConn) Close() error {
	c.nc.Close()
	return nil
}

type natsResponseSub struct {
	sub *nats.Subscription
	ch  chan []byte
}

func (r *natsResponseSub) Next(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < timeout {
			timeout = until
		}
	}
	select {
	case data := <-r.ch:
		return data, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *natsResponseSub) Unsubscribe() error {
	return r.sub.Unsubscribe()
}
