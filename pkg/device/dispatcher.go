package device

import (
	"context"

	"github.com/dory-project/dory/pkg/blockio"
)

// Submit is the device's one submission entry point: it runs the request
// through the dispatcher and, for every ready waiter the slot state
// machine unblocks along the way, reinvokes the dispatcher iteratively
// (an explicit work queue, never recursion on the caller's stack) until
// the whole wave has settled.
func (d *Device) Submit(req *blockio.Request) Outcome {
	outcome, ready := d.service(req)
	d.drainReady(ready)
	return outcome
}

// service runs one request through the dispatcher and, if the outcome is
// Forwarded, performs that forward against the backing device itself —
// this Device owns the backend end to end, so there is no separate
// caller-side forwarding step to hand back to.
func (d *Device) service(req *blockio.Request) (Outcome, []*blockio.Request) {
	outcome, ready := d.dispatchOnce(req)
	if outcome == Forwarded {
		d.forwardToBackend(context.Background(), req)
	}
	return outcome, ready
}

// drainReady processes a wave of slot waiters, each via a fresh dispatch
// pass, expanding the queue with whatever further waiters that unblocks.
func (d *Device) drainReady(initial []*blockio.Request) {
	queue := initial
	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]
		_, ready := d.service(req)
		queue = append(queue, ready...)
	}
}

// resumeGatedQueue replays requests that were parked on flush_gated while
// a barrier was in progress. Each gets only the slot-lookup half of the
// dispatcher (steps 6-7): its accounting was done on its original pass,
// and it takes a fresh busy_count contribution for this one.
func (d *Device) resumeGatedQueue(gated []*blockio.Request) {
	for _, req := range gated {
		outcome, ready := d.resumeGated(req)
		if outcome == Forwarded {
			d.forwardToBackend(context.Background(), req)
		}
		d.drainReady(ready)
	}
}

// dispatchOnce implements the full dispatcher algorithm (§4.5 steps 1-8)
// for a brand-new request.
func (d *Device) dispatchOnce(req *blockio.Request) (Outcome, []*blockio.Request) {
	d.accountRequest(req)

	if req.Direction == blockio.Write && !req.IsFlush() && d.stopped.Load() {
		d.stats.writeFailures.Add(1)
		req.Complete(int(d.ioErrorCode.Load()))
		return Consumed, nil
	}

	if d.array.len() == 0 {
		return Forwarded, nil
	}

	d.busyIncrement()

	d.flushMu.Lock()
	switch {
	case req.IsFlush():
		first := !d.flushingFlag.Load()
		d.pendingFlushes = append(d.pendingFlushes, req)
		if first {
			d.flushingFlag.Store(true)
		}
		d.flushMu.Unlock()
		var ready []*blockio.Request
		if first {
			ready = d.initiateFlushAll()
		}
		// Every flush arrival's own busy_count contribution (incremented
		// unconditionally above) is released here, on dispatcher exit for
		// this request — deferred past the sweep so a premature
		// zero-crossing can't fire mid-sweep while other dirty slots are
		// still being written back.
		d.busyDecrement()
		return Consumed, ready
	case d.flushingFlag.Load():
		d.flushGated = append(d.flushGated, req)
		d.flushMu.Unlock()
		// A parked request releases its busy_count contribution so the
		// flush it waits behind can reach zero and complete.
		d.busyDecrement()
		return Consumed, nil
	default:
		d.flushMu.Unlock()
	}

	outcome, ready := d.invokeSlot(req)
	d.busyDecrement()
	return outcome, ready
}

// resumeGated implements steps 6-7 only, for a request that already
// passed steps 1-5 on an earlier pass (it was parked on flush_gated and
// released its busy_count contribution there), so it takes a new one.
func (d *Device) resumeGated(req *blockio.Request) (Outcome, []*blockio.Request) {
	d.busyIncrement()
	outcome, ready := d.invokeSlot(req)
	d.busyDecrement()
	return outcome, ready
}

func (d *Device) accountRequest(req *blockio.Request) {
	if req.IsFlush() {
		d.stats.flushes.Add(1)
		return
	}
	switch req.Direction {
	case blockio.Read:
		d.stats.reads.Add(1)
	case blockio.Write:
		d.stats.writes.Add(1)
		if req.Flags.Has(blockio.FUA) {
			d.stats.fuaWrites.Add(1)
		}
	}
}

// invokeSlot runs the cache slot state machine (§4.1) for req, acquiring
// and releasing exactly the one slot lock it needs.
func (d *Device) invokeSlot(req *blockio.Request) (Outcome, []*blockio.Request) {
	shift := d.cfg.shift()
	blockNum := req.BlockNumber(shift)
	slot := d.array.slotFor(blockNum)

	slot.mu.Lock()

	if slot.state != stateEmpty && slot.blockNumber != blockNum {
		// Different block resident in this slot: bypass without
		// disturbing it, per the direct-mapped array's no-associativity
		// rule.
		slot.mu.Unlock()
		return Forwarded, nil
	}

	switch slot.state {
	case stateEmpty:
		return d.enterCache(slot, req, blockNum)

	case stateDirty:
		isFullBlock := req.IsFullBlock(d.cfg.BlockSize, shift)
		isFUAorDiscard := req.Flags.Has(blockio.FUA) || req.Flags.Has(blockio.Discard)

		if req.Direction == blockio.Write && isFullBlock && isFUAorDiscard {
			slot.state = stateEmpty
			slot.blockNumber = 0
			ready := slot.drainWaiters()
			slot.mu.Unlock()
			// The incoming request itself still holds its own busy_count
			// contribution (released by the caller's step 7), so this
			// decrement can never be the one that crosses to zero.
			d.busyDecrement()
			return Forwarded, ready
		}

		if isFUAorDiscard {
			slot.waiters = append(slot.waiters, req)
			slot.mu.Unlock()
			ready := d.writebackSlot(slot)
			return Consumed, ready
		}

		slot.state = stateCopying
		slot.mu.Unlock()

		d.copyCachedIO(slot, req)

		return d.finishCopyingToDirty(slot, req)

	default: // stateCopying, stateWriting
		slot.waiters = append(slot.waiters, req)
		slot.mu.Unlock()
		return Consumed, nil
	}
}

// enterCache handles the Empty-state branch: either the torn-selection
// policy caches this full-block write (Empty->Copying->Dirty), or the
// request bypasses caching entirely. Called with slot.mu held.
func (d *Device) enterCache(slot *Slot, req *blockio.Request, blockNum uint64) (Outcome, []*blockio.Request) {
	if !d.shouldCacheWrite(req, blockNum) {
		slot.mu.Unlock()
		return Forwarded, nil
	}

	slot.blockNumber = blockNum
	slot.state = stateCopying
	d.busyIncrement() // busy_count incremented on the Empty->Copying transition
	slot.mu.Unlock()

	copy(slot.buffer, req.Payload)

	return d.finishCopyingToDirty(slot, req)
}

// finishCopyingToDirty retakes the slot lock, completes the Copying->Dirty
// transition, performs the cooperative flush check, and completes req.
func (d *Device) finishCopyingToDirty(slot *Slot, req *blockio.Request) (Outcome, []*blockio.Request) {
	slot.mu.Lock()
	slot.state = stateDirty
	ready := slot.drainWaiters()
	// Cooperative check (§4.3): read flushingFlag while holding the slot
	// lock we just reacquired. The flush initiator always sets the flag
	// before its sweep begins, and a slot's Copying->Dirty transition
	// always happens inside a slot-lock critical section, so the
	// lock's acquire here is guaranteed to observe a flag set before we
	// entered it — no separate fence or flush_lock acquisition needed.
	needsWriteback := d.flushingFlag.Load()
	slot.mu.Unlock()

	req.Complete(blockio.StatusOK)

	if needsWriteback {
		ready = append(ready, d.writebackSlot(slot)...)
	}
	return Consumed, ready
}

func (d *Device) shouldCacheWrite(req *blockio.Request, blockNum uint64) bool {
	shift := d.cfg.shift()
	return req.Direction == blockio.Write &&
		req.IsFullBlock(d.cfg.BlockSize, shift) &&
		!req.Flags.Has(blockio.FUA) &&
		!req.Flags.Has(blockio.Discard) &&
		d.shouldCache(blockNum)
}

// copyCachedIO performs the Dirty->Copying data transfer for a cache hit:
// a read fills the request payload from the slot buffer, a write (partial
// or non-FUA/discard full) copies the request payload into it. Called
// with the slot lock NOT held, per the state machine's "lock dropped
// during copy" rule — the slot is excluded from other actors by being in
// Copying, not by the lock.
func (d *Device) copyCachedIO(slot *Slot, req *blockio.Request) {
	shift := d.cfg.shift()
	blockSectors := uint64(1) << shift
	relSector := req.Sector % blockSectors
	off := relSector * 512

	switch req.Direction {
	case blockio.Read:
		copy(req.Payload, slot.buffer[off:off+uint64(req.Length)])
	case blockio.Write:
		copy(slot.buffer[off:off+uint64(req.Length)], req.Payload)
	}
}
