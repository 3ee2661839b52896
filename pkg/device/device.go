// Package device implements the caching I/O engine at the heart of dory:
// a per-block state machine coordinating in-flight I/O, write-back to a
// backing device, flush-barrier ordering, FUA/discard semantics, and a
// deterministic failure-injection switch.
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dory-project/dory/pkg/backend"
	"github.com/dory-project/dory/pkg/blockio"
	"github.com/dory-project/dory/pkg/doryerr"
	"github.com/dory-project/dory/pkg/logging"
)

// Outcome is a dispatcher's classification of one submitted request.
type Outcome int

const (
	// Forwarded means the request was (or, in this implementation, has
	// already been) submitted unchanged to the backing device.
	Forwarded Outcome = iota
	// Consumed means the device has taken responsibility for completion,
	// whether that happened synchronously within Submit or is deferred.
	Consumed
)

func (o Outcome) String() string {
	if o == Forwarded {
		return "Forwarded"
	}
	return "Consumed"
}

// Device is one dory instance: the cache array, flush coordinator, busy
// tracker, and request dispatcher wired around a single backing device.
type Device struct {
	cfg     Config
	backend backend.Device
	log     *logging.Logger

	array *array

	busyCount atomic.Int64

	flushMu        sync.Mutex
	flushingFlag   atomic.Bool
	pendingFlushes []*blockio.Request
	flushGated     []*blockio.Request

	worker *worker

	stats stats

	stopped     atomic.Bool
	ioErrorCode atomic.Int32
	tornMask    atomic.Uint32
	tornModulus atomic.Uint32

	stopOnce   sync.Once
	stoppedAtR uint64
	stoppedAtW uint64
	statsMu    sync.Mutex

	notifyMu sync.Mutex
	notifyCh chan struct{}
}

// IoErrorCode is the completion status used for every injected failure.
const IoErrorCode = 5 // EIO-equivalent

// New validates cfg, allocates the cache array, and returns a Device
// fronting be. be must already be open; Device never opens or closes it
// implicitly beyond what Close does.
func New(cfg Config, be backend.Device) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if be == nil {
		return nil, doryerr.NewConfigInvalid("backing device must not be nil")
	}

	d := &Device{
		cfg:      cfg,
		backend:  be,
		log:      logging.GetGlobalLogger().WithComponent(fmt.Sprintf("device:%s", cfg.Name)),
		array:    newArray(cfg.SlotCount, cfg.BlockSize),
		notifyCh: make(chan struct{}),
	}
	d.ioErrorCode.Store(IoErrorCode)
	d.tornMask.Store(cfg.TornMask)
	d.tornModulus.Store(cfg.TornModulus)
	d.worker = newWorker(d)
	d.worker.start()

	return d, nil
}

// Close stops the worker context. It does not close the backing device;
// the caller owns that.
func (d *Device) Close() error {
	d.worker.stop()
	return nil
}

// StatusLine renders the config-dump line: "<name> <device> <block-size>
// <slot-count>".
func (d *Device) StatusLine() string {
	return fmt.Sprintf("%s %s %d %d", d.cfg.Name, d.cfg.BackingPath, d.cfg.BlockSize, d.array.len())
}

// Name returns the instance name this Device was constructed with.
func (d *Device) Name() string {
	return d.cfg.Name
}

func (d *Device) shouldCache(blockNumber uint64) bool {
	mask := d.tornMask.Load()
	modulus := d.tornModulus.Load()
	if modulus == 0 {
		return false
	}
	bit := blockNumber % uint64(modulus)
	return mask&(1<<bit) != 0
}

func (d *Device) forwardToBackend(ctx context.Context, req *blockio.Request) {
	var err error
	switch req.Direction {
	case blockio.Read:
		err = d.backend.ReadAt(ctx, req.Payload, int64(req.Sector)*512)
	case blockio.Write:
		err = d.backend.WriteAt(ctx, req.Payload, int64(req.Sector)*512)
	}
	if err != nil {
		d.log.WithField("sector", req.Sector).Warnf("backend i/o failed: %v", err)
		req.Complete(int(d.ioErrorCode.Load()))
		return
	}
	req.Complete(blockio.StatusOK)
}
