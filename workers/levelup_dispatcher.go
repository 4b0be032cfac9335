package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"loci-server/metrics"
	"loci-server/services"
)

// LevelUpHandler delivers one level-up; NotificationService implements it.
type LevelUpHandler interface {
	NotifyLevelUp(ctx context.Context, signal services.LevelUpSignal) error
}

// LevelUpDispatcher is the work queue between committed accruals and notification delivery.
type LevelUpDispatcher struct {
	queue   chan services.LevelUpSignal
	handler LevelUpHandler
	timeout time.Duration
	done    chan struct{}

	mu       sync.RWMutex
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewLevelUpDispatcher(handler LevelUpHandler, size int) *LevelUpDispatcher {
	if size <= 0 {
		size = 1
	}
	return &LevelUpDispatcher{
		queue:   make(chan services.LevelUpSignal, size),
		handler: handler,
		timeout: 15 * time.Second,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Publish never blocks. A full queue or a stopped dispatcher drops the signal.
func (d *LevelUpDispatcher) Publish(signal services.LevelUpSignal) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped(signal, "dispatcher stopped")
		return
	}
	select {
	case d.queue <- signal:
	default:
		d.dropped(signal, "queue full")
	}
}

func (d *LevelUpDispatcher) dropped(signal services.LevelUpSignal, reason string) {
	metrics.RecordLevelUpDropped()
	log.WithFields(log.Fields{
		"actor":  signal.ActorID,
		"target": signal.TargetID,
		"level":  signal.NewLevel,
	}).Warnf("[LEVELUP] ⚠️ %s, dropping level-up signal", reason)
}

func (d *LevelUpDispatcher) Start(ctx context.Context) {
	log.Info("🔁 Starting level-up dispatcher…")
	go d.run(ctx)
}

// Stop closes intake and lets the consumer drain what is already queued.
// Call it after the HTTP server has stopped accepting requests.
func (d *LevelUpDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.closeIntake()
		close(d.stop)
	})
}

func (d *LevelUpDispatcher) closeIntake() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Done is closed once the dispatcher has drained its queue after Stop or ctx cancellation.
func (d *LevelUpDispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *LevelUpDispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case signal := <-d.queue:
			d.deliver(signal)
		case <-d.stop:
			d.drain()
			log.Info("⏹️ Level-up dispatcher stopped")
			return
		case <-ctx.Done():
			d.closeIntake()
			d.drain()
			log.Info("⏹️ Level-up dispatcher stopped")
			return
		}
	}
}

func (d *LevelUpDispatcher) drain() {
	for {
		select {
		case signal := <-d.queue:
			d.deliver(signal)
		default:
			return
		}
	}
}

// deliver runs detached from the dispatcher context so a shutdown still flushes queued work.
func (d *LevelUpDispatcher) deliver(signal services.LevelUpSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notify(ctx, signal); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"actor":  signal.ActorID,
			"target": signal.TargetID,
			"level":  signal.NewLevel,
		}).Error("[LEVELUP] ❌ notification failed")
		return
	}
	log.WithFields(log.Fields{
		"actor":  signal.ActorID,
		"target": signal.TargetID,
		"level":  signal.NewLevel,
	}).Info("[LEVELUP] ✅ participants notified")
}

// notify turns a handler panic into an error so one bad signal cannot stop the consumer.
func (d *LevelUpDispatcher) notify(ctx context.Context, signal services.LevelUpSignal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("level-up handler panicked: %v", r)
		}
	}()
	return d.handler.NotifyLevelUp(ctx, signal)
}
