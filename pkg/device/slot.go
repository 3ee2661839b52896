package device

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/dory-project/dory/pkg/blockio"
)

type slotState int32

const (
	stateEmpty slotState = iota
	stateCopying
	stateDirty
	stateWriting
)

func (s slotState) String() string {
	switch s {
	case stateEmpty:
		return "EMPTY"
	case stateCopying:
		return "COPYING"
	case stateDirty:
		return "DIRTY"
	case stateWriting:
		return "WRITING"
	default:
		return "UNKNOWN"
	}
}

// Slot is one entry of the direct-mapped cache array: a per-block state
// machine with a local FIFO wait queue. Its lock must be safe to acquire
// from a completion context; in this implementation completions run on
// ordinary goroutines, so a plain sync.Mutex satisfies that.
//
// A slot carries no pointer back to its owning Device: every method that
// drives the state machine lives on Device and takes the slot as an
// argument, since slot lifetime is bounded by device lifetime by
// construction (slots are allocated in New and never outlive it) — the
// "back-reference that is not an ownership edge" the design allows for is
// simply unnecessary in a language with no manual lifetime management.
type Slot struct {
	mu          sync.Mutex
	state       slotState
	blockNumber uint64
	buffer      []byte
	waiters     []*blockio.Request
}

func newSlot(blockSize uint32) *Slot {
	return &Slot{buffer: make([]byte, blockSize)}
}

// drainWaiters empties the waiter queue and returns it for iterative
// reprocessing by the caller. Must be called with slot.mu held.
func (s *Slot) drainWaiters() []*blockio.Request {
	if len(s.waiters) == 0 {
		return nil
	}
	ready := s.waiters
	s.waiters = nil
	return ready
}

// snapshot returns a point-in-time read of slot fields for the admin
// "cache" surface. Takes the slot lock itself.
func (s *Slot) snapshot() (state slotState, blockNumber uint64, waiters int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.blockNumber, len(s.waiters)
}

// digest returns a short blake2b hex digest of the slot's current buffer
// contents, letting a test harness distinguish torn-write outcomes from
// the admin surface without reading the full buffer over that channel.
func (s *Slot) digest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := blake2b.Sum256(s.buffer)
	return hex.EncodeToString(sum[:8])
}
