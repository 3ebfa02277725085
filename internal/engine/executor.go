package engine

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/datallboy/mediagrab/internal/infra/logger"
	"golang.org/x/sync/errgroup"
)

// Func is the per-item behaviour plugged into the executor.
// A nil return counts as a success.
type Func[T any] func(ctx context.Context, item T) error

// BatchHook runs after each batch has fully drained. A non-nil error stops
// the run before the next batch.
type BatchHook func(r Report) error

// Report summarises a run. Done lists the item positions that succeeded.
type Report struct {
	Batches   int
	Succeeded int
	Failed    int
	Done      []int
}

// Executor drives items through a bounded worker pool in sequential batches
// and hands out gapless output indices.
type Executor struct {
	workers  int
	pauseMin time.Duration
	pauseMax time.Duration
	log      logger.Reporter
	progress Progress
	counter  Counter

	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

type Option func(*Executor)

// WithPause sets the randomized pause between batches
func WithPause(min, max time.Duration) Option {
	return func(e *Executor) { e.pauseMin, e.pauseMax = min, max }
}

func WithProgress(p Progress) Option {
	return func(e *Executor) { e.progress = p }
}

func WithSleep(s func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = s }
}

func NewExecutor(workers int, log logger.Reporter, opts ...Option) *Executor {
	if workers <= 0 {
		workers = 1
	}

	e := &Executor{
		workers:   workers,
		pauseMin:  time.Second,
		pauseMax:  3 * time.Second,
		log:       log,
		progress:  NopProgress{},
		sleep:     SleepCtx,
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Workers() int { return e.workers }

// NextIndex allocates the next output index
func (e *Executor) NextIndex() int { return e.counter.Next() }

// ResetIndex makes the next allocated index equal start
func (e *Executor) ResetIndex(start int) { e.counter.Reset(start) }

// Issued is how many indices were handed out since the last reset
func (e *Executor) Issued() int { return e.counter.Issued() }

func (e *Executor) Progress() Progress { return e.progress }

// Run splits items into ceil(len/batchSize) batches and runs each on a fresh
// pool of at most Workers goroutines. Item failures are logged and never stop
// a batch; only a cancelled context or a failing hook ends the run early.
func Run[T any](ctx context.Context, e *Executor, items []T, fn Func[T], batchSize int, label string, hooks ...BatchHook) (Report, error) {
	var report Report
	if len(items) == 0 {
		return report, nil
	}
	if batchSize <= 0 {
		batchSize = len(items)
	}

	totalBatches := (len(items) + batchSize - 1) / batchSize

	e.progress.Begin(label, len(items))
	defer e.progress.End()

	var mu sync.Mutex

	for b := 0; b < totalBatches; b++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := b * batchSize
		end := min(start+batchSize, len(items))
		e.log.Debug("[%s] batch %d/%d: items %d-%d", label, b+1, totalBatches, start, end-1)

		// The pool is rebuilt for every batch and drained before the next one
		var g errgroup.Group
		g.SetLimit(e.workers)
		report.Batches++

		for i := start; i < end; i++ {
			pos := i
			g.Go(func() error {
				err := fn(ctx, items[pos])

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failed++
					e.log.Error("[%s] item %d failed: %v", label, pos, err)
					return nil
				}
				report.Succeeded++
				report.Done = append(report.Done, pos)
				e.progress.Advance(1)
				return nil
			})
		}
		_ = g.Wait()

		for _, hook := range hooks {
			if err := hook(report); err != nil {
				return report, err
			}
		}

		if b < totalBatches-1 {
			pause := e.between(e.pauseMin, e.pauseMax)
			e.log.Debug("[%s] pausing %s before next batch", label, pause.Truncate(time.Millisecond))
			if err := e.sleep(ctx, pause); err != nil {
				return report, err
			}
		}
	}

	e.log.Info("[%s] finished: %d ok, %d failed", label, report.Succeeded, report.Failed)
	return report, nil
}

// Between draws a uniform duration in [min, max]
func (e *Executor) Between(min, max time.Duration) time.Duration { return e.between(min, max) }

func (e *Executor) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(e.randFloat()*float64(max-min))
}

// Sleep waits d using the executor's sleeper, honouring ctx
func (e *Executor) Sleep(ctx context.Context, d time.Duration) error { return e.sleep(ctx, d) }

func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
