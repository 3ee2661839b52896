package device

import (
	"github.com/dory-project/dory/pkg/doryerr"
)

// Config holds a dory instance's immutable construction-time parameters.
type Config struct {
	// Name identifies this instance in logs, the registry, and the status
	// line. Must be no longer than 11 characters.
	Name string
	// BackingPath is passed through to the caller-selected backend
	// constructor; pkg/device itself only records it for StatusLine.
	BackingPath string
	// BlockSize is the caching unit, 512 or 4096 bytes.
	BlockSize uint32
	// SlotCount is the number of entries in the direct-mapped cache
	// array, 0..65516. Zero disables caching entirely.
	SlotCount uint32
	// TornMask and TornModulus select which blocks the torn-write policy
	// caches; see Device.shouldCache.
	TornMask    uint32
	TornModulus uint32
}

const (
	minBlockSize  = 512
	maxBlockSize  = 4096
	maxSlotCount  = 65516
	minModulus    = 8
	maxModulus    = 32
	maxNameLength = 11

	defaultTornMask    = 0xFFFFFFFF
	defaultTornModulus = 8
)

// DefaultConfig returns a Config with sensible defaults for everything
// but Name/BackingPath, which have no sensible default.
func DefaultConfig() Config {
	return Config{
		BlockSize:   4096,
		SlotCount:   0,
		TornMask:    defaultTornMask,
		TornModulus: defaultTornModulus,
	}
}

// Validate checks Config against the construction parameter constraints,
// returning a *doryerr.Error with Code ConfigInvalid on the first failure.
func (c Config) Validate() error {
	if len(c.Name) == 0 {
		return doryerr.NewConfigInvalid("instance name must not be empty")
	}
	if len(c.Name) > maxNameLength {
		return doryerr.NewConfigInvalid("instance name %q exceeds %d characters", c.Name, maxNameLength)
	}
	if c.BackingPath == "" {
		return doryerr.NewConfigInvalid("backing device path must not be empty")
	}
	if c.BlockSize != minBlockSize && c.BlockSize != maxBlockSize {
		return doryerr.NewConfigInvalid("block size must be 512 or 4096, got %d", c.BlockSize)
	}
	if c.SlotCount > maxSlotCount {
		return doryerr.NewConfigInvalid("cache slot count must be <= %d, got %d", maxSlotCount, c.SlotCount)
	}
	if c.TornMask == 0 {
		return doryerr.NewConfigInvalid("torn mask must be nonzero")
	}
	if c.TornModulus < minModulus || c.TornModulus > maxModulus {
		return doryerr.NewConfigInvalid("torn modulus must be in [%d, %d], got %d", minModulus, maxModulus, c.TornModulus)
	}
	return nil
}

// shift returns the bit shift bridging a 512-byte sector address and a
// block number: 0 for 512-byte blocks, 3 for 4096-byte blocks.
func (c Config) shift() uint {
	if c.BlockSize == maxBlockSize {
		return 3
	}
	return 0
}
