package device

import (
	"sync"

	"github.com/dory-project/dory/pkg/blockio"
)

// flushBatch is one scheduled unit of deferred work: the pending-flush
// completion list and the gated-request resume list drained together
// when busy_count last crossed zero.
type flushBatch struct {
	pending []*blockio.Request
	gated   []*blockio.Request
}

// worker is the single-consumer task of §4.6: it drains scheduled
// flushBatches outside of any lock. Scheduling coalesces — a pending,
// not-yet-delivered notification absorbs any batches queued after it,
// so a burst of flush completions triggers at most one extra wakeup.
type worker struct {
	dev    *Device
	mu     sync.Mutex
	queue  []flushBatch
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func newWorker(dev *Device) *worker {
	return &worker{
		dev:    dev,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (w *worker) start() {
	w.wg.Add(1)
	go w.run()
}

func (w *worker) stop() {
	close(w.done)
	w.wg.Wait()
}

// scheduleFlushCompletion enqueues a batch and ensures the worker wakes
// at least once more to process it.
func (w *worker) scheduleFlushCompletion(pending, gated []*blockio.Request) {
	w.mu.Lock()
	w.queue = append(w.queue, flushBatch{pending: pending, gated: gated})
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
		// A wakeup is already pending; it will see this batch too.
	}
}

func (w *worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			w.drain()
			return
		case <-w.notify:
			w.drain()
		}
	}
}

func (w *worker) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		batches := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, b := range batches {
			w.dev.completeFlushBatch(b.pending, b.gated)
		}
	}
}
