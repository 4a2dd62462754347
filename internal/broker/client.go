package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WessleyAI/ingest-dispatch/pkg/fn"
)

// connState tracks one Client's connection lifecycle, per §4.1:
// Disconnected → Connecting → Healthy → Disconnected on ping/operation error.
type connState int

const (
	StateDisconnected connState = iota
	StateConnecting
	StateHealthy
)

// responseTimeoutMultiplier is the source's 9x blocking-pop timeout
// multiplier over a job's TTL. Its origin is undocumented upstream; this
// implementation preserves the behavior rather than re-deriving it (Open
// Question 1 in SPEC_FULL.md §9).
const responseTimeoutMultiplier = 9

// Options configures a Client.
type Options struct {
	Host           string
	Port           string
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// dialFn is overridden in tests to avoid a live NATS server.
	dialFn func(url string) (Conn, error)
}

func (o Options) url() string {
	return fmt.Sprintf("nats://%s:%s", o.Host, o.Port)
}

func (o Options) retryOpts() fn.RetryOpts {
	maxRetries := o.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	initial := o.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maxWait := o.MaxBackoff
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return fn.RetryOpts{MaxAttempts: maxRetries + 1, InitialWait: initial, MaxWait: maxWait, Jitter: false}
}

// Client is a thin reliability wrapper over the broker connection: blocking
// fetch/submit against task_queue with retry+backoff, and the submit_job
// convenience that correlates a task_queue push with a response_<job_id>
// pop under a TTL-derived timeout.
type Client struct {
	mu    sync.Mutex
	opts  Options
	state connState
	conn  Conn
}

// NewClient builds an unconnected Client. The first call touching the
// broker establishes the connection lazily via GetClient.
func NewClient(opts Options) *Client {
	if opts.dialFn == nil {
		opts.dialFn = func(url string) (Conn, error) {
			return dial(url)
		}
	}
	return &Client{opts: opts, state: StateDisconnected}
}

// State reports the connection's current lifecycle state.
func (c *Client) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetClient returns a healthy connection, lazily dialing on first use and
// reconnecting if the previous connection's ping fails. Reconnection is
// sequential under c.mu — a single outstanding reconnect suffices, per
// §4.1's connection state machine.
func (c *Client) GetClient(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.Ping(); err == nil {
			c.state = StateHealthy
			return c.conn, nil
		}
		c.conn.Close()
		c.conn = nil
		c.state = StateDisconnected
	}

	c.state = StateConnecting
	conn, err := c.opts.dialFn(c.opts.url())
	if err != nil {
		c.state = StateDisconnected
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.conn = conn
	c.state = StateHealthy
	return conn, nil
}

// FetchMessage blocks on a pop from queue, retrying transient failures with
// capped exponential backoff up to MaxRetries.
func (c *Client) FetchMessage(ctx context.Context, queue string) ([]byte, error) {
	result := fn.Retry(ctx, c.opts.retryOpts(), func(ctx context.Context) fn.Result[[]byte] {
		conn, err := c.GetClient(ctx)
		if err != nil {
			return fn.Err[[]byte](err)
		}
		data, err := conn.FetchWorkQueue(ctx, queue)
		if err != nil {
			return fn.Err[[]byte](err)
		}
		return fn.Ok(data)
	})
	data, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// SubmitMessage appends data to the tail of queue, retrying transient
// failures the same way FetchMessage does.
func (c *Client) SubmitMessage(ctx context.Context, queue string, data []byte) error {
	result := fn.Retry(ctx, c.opts.retryOpts(), func(ctx context.Context) fn.Result[struct{}] {
		conn, err := c.GetClient(ctx)
		if err != nil {
			return fn.Err[struct{}](err)
		}
		if err := conn.PublishWorkQueue(queue, data); err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	if _, err := result.Unwrap(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SubmitJob pushes payload onto taskQueue, then blocks on responseChannel
// with a wait window of 9*ttl, deleting the channel on every terminal path
// (success, timeout, or error) — per §4.1 and the testable property "every
// terminal path frees the response channel".
func (c *Client) SubmitJob(ctx context.Context, taskQueue string, payload []byte, responseChannel string, ttl time.Duration) ([]byte, error) {
	conn, err := c.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := conn.SubscribeResponse(responseChannel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := c.SubmitMessage(ctx, taskQueue, payload); err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	data, err := sub.Next(ctx, ttl*responseTimeoutMultiplier)
	sub.Unsubscribe()
	if err != nil {
		if err == ErrTimeout {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}
