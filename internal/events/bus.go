package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BusEventType tags the in-process notifications the bus distributes to
// its subscribers. No role in this repository constructs a Bus; the
// durable system of record is the Tracker, which roles call directly.
type BusEventType string

const (
	BusTradeOpened BusEventType = "trade_opened"
	BusTradeClosed BusEventType = "trade_closed"
	BusSignal      BusEventType = "signal"
	BusRiskAlert   BusEventType = "risk_alert"
)

// BusEvent is the payload distributed to subscribers.
type BusEvent struct {
	ID        string
	Type      BusEventType
	Timestamp time.Time
	Payload   interface{}
}

// Handler processes one event. Handlers must not block for long; the bus
// recovers from handler panics so one bad subscriber cannot wedge the bus.
type Handler func(BusEvent)

// BusConfig tunes the bus's internal worker pool and queue depth. Declared
// as its own top-level type (unlike the teacher's event_bus.go, where this
// config type and its default constructor are nested inside the struct
// literal of the type they configure).
type BusConfig struct {
	Workers   int
	QueueSize int
}

// DefaultBusConfig returns sane defaults for a single-process event bus.
func DefaultBusConfig() BusConfig {
	return BusConfig{Workers: 4, QueueSize: 1024}
}

// Bus is a minimal in-process pub/sub: Publish enqueues onto a bounded
// queue (dropping when full) that a worker pool drains to subscribers. It
// is independent of the Tracker, whose writes are synchronous.
type Bus struct {
	cfg     BusConfig
	logger  *zap.Logger
	queue   chan BusEvent
	mu      sync.RWMutex
	subs    map[BusEventType][]Handler
	wg      sync.WaitGroup
	stopCh  chan struct{}
	running int32
	dropped int64
}

// NewBus constructs a Bus. Call Start to begin processing.
func NewBus(cfg BusConfig, logger *zap.Logger) *Bus {
	return &Bus{
		cfg:    cfg,
		logger: logger.Named("eventbus"),
		queue:  make(chan BusEvent, cfg.QueueSize),
		subs:   make(map[BusEventType][]Handler),
		stopCh: make(chan struct{}),
	}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(t BusEventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish enqueues an event for async dispatch. If the queue is full the
// event is dropped and counted, never blocking the publisher.
func (b *Bus) Publish(t BusEventType, payload interface{}) {
	ev := BusEvent{ID: uuid.NewString(), Type: t, Timestamp: time.Now().UTC(), Payload: payload}
	select {
	case b.queue <- ev:
	default:
		atomic.AddInt64(&b.dropped, 1)
		b.logger.Warn("event bus queue full, dropping event", zap.String("type", string(t)))
	}
}

// Start launches the worker pool that drains the queue.
func (b *Bus) Start() {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return
	}
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
}

// Stop drains in-flight events and returns once all workers exit.
func (b *Bus) Stop() {
	if !atomic.CompareAndSwapInt32(&b.running, 1, 0) {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
}

// Dropped returns the count of events dropped due to a full queue.
func (b *Bus) Dropped() int64 { return atomic.LoadInt64(&b.dropped) }

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.stopCh:
			// Drain what's already queued before exiting.
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev BusEvent) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.safeInvoke(h, ev)
	}
}

func (b *Bus) safeInvoke(h Handler, ev BusEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.Any("panic", r), zap.String("type", string(ev.Type)))
		}
	}()
	h(ev)
}
