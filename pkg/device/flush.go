package device

import (
	"context"

	"github.com/dory-project/dory/pkg/blockio"
)

// initiateFlushAll performs the flush-all sweep (§4.3): every slot
// currently Dirty is transitioned to Writing and written back. Slots
// caught mid-Copying are not touched here — they are picked up by the
// cooperative check in finishCopyingToDirty once their own transition
// completes. The combined ready list of every slot's unblocked waiters
// is returned rather than drained here, so the caller can bubble it up
// to the one top-level drainReady loop instead of re-entering the
// dispatcher on this stack.
func (d *Device) initiateFlushAll() []*blockio.Request {
	var ready []*blockio.Request
	for _, slot := range d.array.slots {
		ready = append(ready, d.writebackSlot(slot)...)
	}
	return ready
}

// writebackSlot performs one Dirty->Writing->Empty transition. It is a
// no-op if the slot is not currently Dirty (already being written back,
// still Copying, or already Empty), which makes it safe to call
// speculatively from the flush sweep, the cooperative check, and a
// partial-block FUA/discard hit alike. It returns the slot's unblocked
// waiters rather than dispatching them itself: writebackSlot runs deep
// inside the call stack of the request currently being serviced, so
// dispatching here would re-enter the dispatcher on that stack instead
// of going through the single top-level drainReady work queue.
func (d *Device) writebackSlot(slot *Slot) []*blockio.Request {
	slot.mu.Lock()
	if slot.state != stateDirty {
		slot.mu.Unlock()
		return nil
	}
	slot.state = stateWriting
	blockNum := slot.blockNumber
	// The slot's buffer is exclusively owned for its lifetime; while
	// Writing, any hit is queued on waiters rather than touching the
	// buffer, so it's safe to write directly from it with the lock
	// dropped, mirroring the reused write-descriptor submission in §4.1.
	buf := slot.buffer
	slot.mu.Unlock()

	ctx := context.Background()
	if d.stopped.Load() {
		d.stats.writeFailures.Add(1)
	} else {
		off := int64(blockNum) * int64(d.cfg.BlockSize)
		if err := d.backend.WriteAt(ctx, buf, off); err != nil {
			d.stats.writeFailures.Add(1)
		}
	}

	slot.mu.Lock()
	slot.state = stateEmpty
	slot.blockNumber = 0
	ready := slot.drainWaiters()
	slot.mu.Unlock()

	d.busyDecrement()
	return ready
}

// completeFlushLocked runs when busy_count crosses to zero while a flush
// is in progress. Called with flushMu held.
func (d *Device) completeFlushLocked() {
	d.flushingFlag.Store(false)
	pending := d.pendingFlushes
	d.pendingFlushes = nil
	gated := d.flushGated
	d.flushGated = nil
	d.worker.scheduleFlushCompletion(pending, gated)
	d.notifyStateChange()
}

// completeFlushBatch is run by the worker context: it resolves every
// pending FLUSH request and replays every gated request, outside of any
// lock. Each pending request's own busy_count contribution was already
// released at dispatch time (dispatchOnce's flush case), so this only
// completes them — it does not touch busy_count itself.
func (d *Device) completeFlushBatch(pending, gated []*blockio.Request) {
	if len(pending) > 0 {
		lost := d.stopped.Load() && d.stats.writeFailures.Load() > 0
		if !lost {
			d.backend.Flush(context.Background())
		}
		for _, req := range pending {
			if lost {
				d.stats.flushFailures.Add(1)
				req.Complete(int(d.ioErrorCode.Load()))
			} else {
				req.Complete(blockio.StatusOK)
			}
		}
	}
	d.resumeGatedQueue(gated)
}
