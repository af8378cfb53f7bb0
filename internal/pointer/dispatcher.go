package pointer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueSize bounds the number of commands waiting for the worker.
	DefaultQueueSize = 256

	// DefaultSendTimeout caps a single POST /mouse.
	DefaultSendTimeout = 2 * time.Second
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Sender delivers one command to the remote pointer endpoint.
type Sender interface {
	Send(ctx context.Context, cmd Command) error
}

// HTTPSender posts commands as JSON to <BaseURL>/mouse.
type HTTPSender struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPSender creates a sender for the given server base URL
// (e.g. http://192.168.1.20:8000). A nil client uses http.DefaultClient.
func NewHTTPSender(baseURL, token string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{
		endpoint: strings.TrimRight(baseURL, "/") + "/mouse",
		token:    token,
		client:   client,
	}
}

// Endpoint returns the full /mouse URL.
func (s *HTTPSender) Endpoint() string {
	return s.endpoint
}

// Send implements Sender. The response body is drained and ignored; only
// transport errors and non-2xx statuses are reported.
func (s *HTTPSender) Send(ctx context.Context, cmd Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode pointer command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pointer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post pointer command: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("pointer endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	Dispatched int64 `json:"dispatched"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithSendTimeout sets the per-command delivery timeout.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher relays commands to a Sender without blocking the caller.
//
// Commands are sent one at a time by a single worker in the order Dispatch
// was called. Delivery is best effort: failures are logged and dropped,
// never retried. The next touch event is the retry.
type Dispatcher struct {
	sender      Sender
	logger      *slog.Logger
	queueSize   int
	sendTimeout time.Duration

	queue chan Command
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dispatched atomic.Int64
	sent       atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		logger:      slog.Default(),
		queueSize:   DefaultQueueSize,
		sendTimeout: DefaultSendTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Command, d.queueSize)

	go d.run()
	return d
}

// Dispatch queues cmd for delivery and returns immediately. Identical
// commands are not merged; each call is its own delivery.
func (d *Dispatcher) Dispatch(cmd Command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- cmd:
		d.dispatched.Add(1)
	default:
		d.dropped.Add(1)
		d.logger.Warn("pointer queue full, dropping command", "x", cmd.X, "y", cmd.Y, "click", cmd.Click)
	}
	return nil
}

// Close stops accepting commands. Queued commands are still delivered; use
// Wait to block until the worker has drained them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Wait blocks until the worker exits after Close.
func (d *Dispatcher) Wait() {
	<-d.done
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Sent:       d.sent.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for cmd := range d.queue {
		d.deliver(cmd)
	}
}

func (d *Dispatcher) deliver(cmd Command) {
	// Sends are not tied to the caller's lifetime; each one gets its own
	// timeout and runs to completion or failure.
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("pointer sender panicked", "panic", r)
		}
	}()

	if err := d.sender.Send(ctx, cmd); err != nil {
		d.failed.Add(1)
		d.logger.Debug("pointer command dropped", "error", err, "x", cmd.X, "y", cmd.Y, "click", cmd.Click)
		return
	}
	d.sent.Add(1)
}
