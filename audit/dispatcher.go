/*
Package audit delivers audit entries away from the request and job paths.

PURPOSE:
  Recording who triggered a recompute, a cleanup or a calendar run must
  never slow down or fail the action itself. Dispatcher buffers entries and
  forwards them to a sink (the store's audit table or a Kafka topic) from a
  single background goroutine.

DELIVERY:
  Best effort. When the buffer is full the entry is dropped and counted.
  Sink errors are logged and otherwise ignored.

SEE ALSO:
  - generic/store.go: AuditEntry, AuditSink, WithActor
  - kafka.go: Kafka-backed sink
*/
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/collection-engine/generic"
)

// DefaultBuffer is the queue length used when NewDispatcher gets size <= 0.
const DefaultBuffer = 256

// Dispatcher is a non-blocking generic.AuditSink.
type Dispatcher struct {
	sink    generic.AuditSink
	log     *logrus.Entry
	timeout time.Duration

	// OnDrop is called once per dropped entry. Set before first use.
	OnDrop func()

	mu      sync.RWMutex
	closed  bool
	queue   chan generic.AuditEntry
	done    chan struct{}
	dropped atomic.Int64
}

var _ generic.AuditSink = (*Dispatcher)(nil)

// NewDispatcher starts the forwarding goroutine. Call Close to drain it.
func NewDispatcher(sink generic.AuditSink, size int, log *logrus.Entry) *Dispatcher {
	if size <= 0 {
		size = DefaultBuffer
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		sink:    sink,
		log:     log,
		timeout: 5 * time.Second,
		queue:   make(chan generic.AuditEntry, size),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// RecordEvent enqueues entry and returns immediately. It never fails.
func (d *Dispatcher) RecordEvent(_ context.Context, entry generic.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(entry)
		return nil
	}

	select {
	case d.queue <- entry:
	default:
		d.drop(entry)
	}
	return nil
}

// Dropped returns how many entries were discarded so far.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close stops accepting entries and waits until the queue is drained or
// ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for entry := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.RecordEvent(ctx, entry); err != nil {
			d.log.WithError(err).WithField("audit_id", entry.ID).Warn("audit delivery failed")
		}
		cancel()
	}
}

func (d *Dispatcher) drop(entry generic.AuditEntry) {
	d.dropped.Add(1)
	if d.OnDrop != nil {
		d.OnDrop()
	}
	d.log.WithField("description", entry.Description).Debug("audit entry dropped")
}
