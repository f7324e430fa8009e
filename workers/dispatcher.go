package workers

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"link-redirect-service/models"
)

type DispatcherConfig struct {
	QueueSize     int
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	// FlushTimeout bounds a single RecordClicks call, including the final
	// flush during shutdown.
	FlushTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:     10000,
		Workers:       4,
		BatchSize:     100,
		FlushInterval: time.Second,
		FlushTimeout:  5 * time.Second,
	}
}

// DispatcherStats is a point in time view of the dispatcher counters.
type DispatcherStats struct {
	Queued   int   `json:"queued"`
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

// Dispatcher records inline clicks off the request path. Dispatch never
// blocks: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	recorder ClickRecorder
	cfg      DispatcherConfig
	logger   *slog.Logger
	queue    chan models.ClickEvent

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

func NewDispatcher(recorder ClickRecorder, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	return &Dispatcher{
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan models.ClickEvent, cfg.QueueSize),
	}
}

// Start launches the worker pool. Cancelling ctx stops intake and drains the
// queue; Stop does the same and waits.
func (d *Dispatcher) Start(ctx context.Context) {
	flushCtx := context.WithoutCancel(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.worker(flushCtx, id)
		}(i)
	}

	go func() {
		<-ctx.Done()
		d.closeQueue()
	}()

	d.logger.Info("click dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Dispatch enqueues event and reports whether it was accepted.
func (d *Dispatcher) Dispatch(event models.ClickEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("click queue full, dropping event", "url_id", event.URLID, "event_type", event.EventType)
		return false
	}
}

// Stop closes the queue, flushes what is left and waits for the workers.
func (d *Dispatcher) Stop() {
	d.closeQueue()
	d.wg.Wait()
	d.logger.Info("click dispatcher stopped", "recorded", d.recorded.Load(), "dropped", d.dropped.Load())
}

func (d *Dispatcher) closeQueue() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:   len(d.queue),
		Recorded: d.recorded.Load(),
		Dropped:  d.dropped.Load(),
		Failed:   d.failed.Load(),
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	batch := make([]models.ClickEvent, 0, d.cfg.BatchSize)
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-d.queue:
			if !ok {
				d.flush(ctx, id, batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= d.cfg.BatchSize {
				d.flush(ctx, id, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(ctx, id, batch)
				batch = batch[:0]
			}
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context, id int, events []models.ClickEvent) {
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.FlushTimeout)
	defer cancel()

	if err := d.recorder.RecordClicks(ctx, events); err != nil {
		d.failed.Add(int64(len(events)))
		d.logger.Error("failed to record clicks", "worker", id, "count", len(events), "error", err)
		return
	}
	d.recorded.Add(int64(len(events)))
}
