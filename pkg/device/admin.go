package device

import (
	"fmt"
	"strings"

	"github.com/dory-project/dory/pkg/blockio"
	"github.com/dory-project/dory/pkg/doryerr"
)

// Admin is the set of operations the external admin surface (§4.7, §6)
// invokes on a Device. Device implements it directly.
type Admin interface {
	Stop()
	SetReturnCode(code int) error
	SetTornMask(mask uint32) error
	SetTornModulus(modulus uint32) error
	TornMask() uint32
	TornModulus() uint32
	Mode() string
	State() string
	Statistics() Stats
	Cache(maxLines int) string
	StatusLine() string
}

// Stop asserts the failure switch: stopped=true, and records the current
// read/write counters so later introspection can report what happened
// "at the moment of stop".
func (d *Device) Stop() {
	d.stopOnce.Do(func() {
		d.statsMu.Lock()
		d.stoppedAtR = d.stats.reads.Load()
		d.stoppedAtW = d.stats.writes.Load()
		d.statsMu.Unlock()
		d.stopped.Store(true)
		d.log.Info("device stopped")
		d.notifyStateChange()
	})
}

// SetReturnCode selects the status code injected failures report: 0 for
// success (used to unstick a test), 1 for the configured EIO-equivalent.
func (d *Device) SetReturnCode(code int) error {
	switch code {
	case 0:
		d.ioErrorCode.Store(blockio.StatusOK)
	case 1:
		d.ioErrorCode.Store(IoErrorCode)
	default:
		return doryerr.NewConfigInvalid("returnEIO must be 0 or 1, got %d", code)
	}
	return nil
}

// SetTornMask updates the torn-selection mask; rejects a zero mask.
func (d *Device) SetTornMask(mask uint32) error {
	if mask == 0 {
		return doryerr.NewConfigInvalid("torn_mask must be nonzero")
	}
	d.tornMask.Store(mask)
	return nil
}

// SetTornModulus updates the torn-selection modulus; rejects values
// outside [8, 32].
func (d *Device) SetTornModulus(modulus uint32) error {
	if modulus < minModulus || modulus > maxModulus {
		return doryerr.NewConfigInvalid("torn_modulus must be in [%d, %d], got %d", minModulus, maxModulus, modulus)
	}
	d.tornModulus.Store(modulus)
	return nil
}

// TornMask returns the current torn-selection mask.
func (d *Device) TornMask() uint32 {
	return d.tornMask.Load()
}

// TornModulus returns the current torn-selection modulus.
func (d *Device) TornModulus() uint32 {
	return d.tornModulus.Load()
}

// Mode returns "stop\n" or "running\n" for the admin "mode" read.
func (d *Device) Mode() string {
	if d.stopped.Load() {
		return "stop\n"
	}
	return "running\n"
}

// StateChanged returns a channel that closes the next time mode, busy_count,
// or flushing flips — a zero-crossing of busy_count, a flush completing, or
// stopped flipping (§6). Transports that want to push on change rather than
// poll select on it and call StateChanged again for the next one, the usual
// Go idiom for a broadcast that doesn't require per-subscriber bookkeeping.
func (d *Device) StateChanged() <-chan struct{} {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	return d.notifyCh
}

// notifyStateChange wakes every current StateChanged waiter and arms a
// fresh channel for the next change.
func (d *Device) notifyStateChange() {
	d.notifyMu.Lock()
	ch := d.notifyCh
	d.notifyCh = make(chan struct{})
	d.notifyMu.Unlock()
	close(ch)
}

// State renders the admin "state" multi-line snapshot.
func (d *Device) State() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode: %s", d.Mode())
	fmt.Fprintf(&b, "busy_count: %d\n", d.busyCount.Load())
	fmt.Fprintf(&b, "flushing: %t\n", d.flushingFlag.Load())
	fmt.Fprintf(&b, "torn_mask: %d\n", d.tornMask.Load())
	fmt.Fprintf(&b, "torn_modulus: %d\n", d.tornModulus.Load())
	fmt.Fprintf(&b, "return_code: %d\n", d.ioErrorCode.Load())
	if d.stopped.Load() {
		d.statsMu.Lock()
		fmt.Fprintf(&b, "stopped_at_reads: %d\n", d.stoppedAtR)
		fmt.Fprintf(&b, "stopped_at_writes: %d\n", d.stoppedAtW)
		d.statsMu.Unlock()
	}
	return b.String()
}

// Statistics returns a snapshot of the atomic counter block for the
// admin "statistics" read.
func (d *Device) Statistics() Stats {
	return d.stats.snapshot()
}

// Cache renders the admin "cache" read: one line per non-Empty slot as
// "<index> <STATE> <waiters> <sector>" (§6) followed by a short blake2b
// digest of the slot buffer — sector is the block's starting sector
// address, not its raw block number, since the shift between the two
// depends on BlockSize.
func (d *Device) Cache(maxLines int) string {
	shift := d.cfg.shift()
	var b strings.Builder
	lines := 0
	for i, slot := range d.array.slots {
		state, blockNumber, waiters := slot.snapshot()
		if state == stateEmpty {
			continue
		}
		if lines >= maxLines {
			b.WriteString("...\n")
			break
		}
		sector := blockNumber << shift
		fmt.Fprintf(&b, "%d %s %d %d %s\n", i, state, waiters, sector, slot.digest())
		lines++
	}
	return b.String()
}
