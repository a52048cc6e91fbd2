// Package dispatch runs the time-driven publication loop: wake on a fixed
// tick, publish every queued item whose slot has arrived, retry failures
// on the next tick.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	logx "chanpost/pkg/logx"

	"chanpost/internal/schedule"
	"chanpost/internal/transport"
)

// Config controls the dispatcher.
type Config struct {
	// Tick is the wake interval; must not exceed the slot granularity.
	Tick time.Duration
	// RatePerMin caps channel sends (Telegram throttles per-chat traffic).
	RatePerMin int
	// FailNoticeAfter is the consecutive-failure count that triggers an
	// operator notice for an item. 0 disables notices.
	FailNoticeAfter int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = 20
	}
	return c
}

// Dispatcher owns the periodic due-scan. The cron trigger only nudges the
// run loop; all publishing happens on one goroutine so items go out in
// ascending slot order.
type Dispatcher struct {
	cfg Config
	eng *schedule.Engine
	pub transport.Publisher
	ntf transport.Notifier
	log logx.Logger

	limiter *rate.Limiter

	mu      sync.Mutex
	c       *cron.Cron
	kick    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	running bool

	now func() time.Time // test hook
}

func New(cfg Config, eng *schedule.Engine, pub transport.Publisher, ntf transport.Notifier, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		eng:     eng,
		pub:     pub,
		ntf:     ntf,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), 1),
		kick:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Kick requests an immediate scan (used for publish-now decisions).
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})

	d.c = cron.New()
	if _, err := d.c.AddFunc(fmt.Sprintf("@every %s", d.cfg.Tick), d.Kick); err != nil {
		d.running = false
		return err
	}

	stopCh := d.stopCh
	done := d.done
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-d.kick:
				d.drain(ctx, stopCh)
			}
		}
	}()
	d.c.Start()
	d.log.Info("dispatcher started", logx.Duration("tick", d.cfg.Tick))

	// Catch up on anything already due from before the restart.
	d.Kick()
	return nil
}

// Stop halts the loop. An in-flight publish completes; no new item is
// started after Stop is observed.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	c := d.c
	d.c = nil
	stopCh := d.stopCh
	done := d.done
	d.mu.Unlock()

	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.log.Info("dispatcher stopped")
	return nil
}

// drain publishes all currently due items in ascending order. The scan
// stops on the first failure so a stuck head never lets later items jump
// the queue; the next tick retries.
func (d *Dispatcher) drain(ctx context.Context, stopCh <-chan struct{}) {
	due, err := d.eng.Due(ctx, d.now())
	if err != nil {
		if err != schedule.ErrStopped {
			d.log.Error("due scan failed", logx.Err(err))
		}
		return
	}
	for _, it := range due {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.publishOne(ctx, it); err != nil {
			return
		}
	}
}

func (d *Dispatcher) publishOne(ctx context.Context, it schedule.PendingItem) error {
	start := d.now()
	err := d.pub.Publish(ctx, it.Content)
	if err == nil {
		if aerr := d.eng.Ack(ctx, it.ID); aerr != nil {
			// The message is out but the queue still holds the item; the
			// next tick will retry the ack path via a duplicate publish
			// only if removal keeps failing, so make this loud.
			d.log.Error("ack after publish failed", logx.Int64("item", it.ID), logx.Err(aerr))
			return aerr
		}
		d.log.Info("published",
			logx.Int64("item", it.ID),
			logx.Time("scheduled_at", it.ScheduledAt),
			logx.Duration("took", d.now().Sub(start)))
		return nil
	}

	attempts, nerr := d.eng.Nack(ctx, it.ID)
	if nerr != nil && nerr != schedule.ErrNotFound {
		d.log.Error("failure record failed", logx.Int64("item", it.ID), logx.Err(nerr))
	}
	d.log.Warn("publish failed; item stays queued",
		logx.Int64("item", it.ID),
		logx.Int("attempts", attempts),
		logx.Err(err))

	if d.ntf != nil && d.cfg.FailNoticeAfter > 0 && attempts > 0 && attempts%d.cfg.FailNoticeAfter == 0 {
		text := fmt.Sprintf("Publishing item %d has failed %d times in a row (last error: %v). It stays queued for retry.",
			it.ID, attempts, err)
		if terr := d.ntf.NotifyOperator(ctx, text); terr != nil {
			d.log.Warn("operator notice failed", logx.Err(terr))
		}
	}
	return err
}
