package device

// busyIncrement counts one more unit of outstanding work: either a request
// currently being processed by the dispatcher, or a slot transitioning
// out of Empty into the cached write-back lifecycle.
func (d *Device) busyIncrement() {
	d.busyCount.Add(1)
}

// busyDecrement removes one unit of outstanding work. If this decrement
// carries busy_count to zero while a flush is in progress, it completes
// that flush — busy_count's zero-crossing is the only synchronization
// point between the dispatcher and the flush coordinator that does not
// go through a lock on its own, so the zero-check itself takes flush_lock
// to make the state transition atomic with the read.
func (d *Device) busyDecrement() {
	if d.busyCount.Add(-1) != 0 {
		return
	}
	d.notifyStateChange()
	d.flushMu.Lock()
	if d.flushingFlag.Load() {
		d.completeFlushLocked()
		d.flushMu.Unlock()
		return
	}
	d.flushMu.Unlock()
}
