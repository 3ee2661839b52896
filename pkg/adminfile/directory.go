// Package adminfile exposes the admin surface as a sysfs-style attribute
// directory: one plain file per attribute, writes to the writable ones
// picked up via fsnotify, grounded on the watch-loop/debounce pattern
// noisefs uses for its local directory sync watcher.
package adminfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dory-project/dory/pkg/device"
	"github.com/dory-project/dory/pkg/logging"
)

var writableAttrs = map[string]bool{
	"stop":         true,
	"returnEIO":    true,
	"torn_mask":    true,
	"torn_modulus": true,
}

var readOnlyAttrs = []string{"mode", "state", "statistics", "cache"}

// Directory is one instance's attribute directory: a plain directory of
// files, kept in sync with the Device in both directions.
type Directory struct {
	dev  *device.Device
	root string
	log  *logging.Logger

	watcher *fsnotify.Watcher

	refreshInterval time.Duration

	debounceMu sync.Mutex
	debounce   map[string]*time.Timer

	ctx    chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// NewDirectory creates root (and its writable attribute files) if absent,
// starts watching it for writes, and starts a background refresh of the
// read-only attributes. refreshInterval <= 0 selects a 1s default.
func NewDirectory(dev *device.Device, root string, refreshInterval time.Duration) (*Directory, error) {
	if refreshInterval <= 0 {
		refreshInterval = time.Second
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create attribute directory: %w", err)
	}

	for name := range writableAttrs {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			os.WriteFile(path, []byte("0\n"), 0o644)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch attribute directory: %w", err)
	}

	d := &Directory{
		dev:             dev,
		root:            root,
		log:             logging.GetGlobalLogger().WithComponent(fmt.Sprintf("adminfile:%s", dev.Name())),
		watcher:         watcher,
		refreshInterval: refreshInterval,
		debounce:        make(map[string]*time.Timer),
		ctx:             make(chan struct{}),
	}

	d.refreshReadOnly()

	d.wg.Add(2)
	go d.watchLoop()
	go d.refreshLoop()

	return d, nil
}

// Close stops the watcher and background refresh, leaving the directory
// and its files on disk.
func (d *Directory) Close() error {
	d.closed.Do(func() { close(d.ctx) })
	err := d.watcher.Close()
	d.wg.Wait()
	return err
}

func (d *Directory) watchLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) {
				continue
			}
			d.handleWrite(filepath.Base(event.Name))
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Warnf("watcher error: %v", err)
		}
	}
}

// handleWrite debounces rapid successive writes to the same attribute
// file before actually applying it, mirroring the directory sync
// watcher's per-path debounce.
func (d *Directory) handleWrite(name string) {
	if !writableAttrs[name] {
		return
	}

	d.debounceMu.Lock()
	if t, ok := d.debounce[name]; ok {
		t.Stop()
	}
	d.debounce[name] = time.AfterFunc(50*time.Millisecond, func() {
		d.applyWrite(name)
		d.debounceMu.Lock()
		delete(d.debounce, name)
		d.debounceMu.Unlock()
	})
	d.debounceMu.Unlock()
}

func (d *Directory) applyWrite(name string) {
	raw, err := os.ReadFile(filepath.Join(d.root, name))
	if err != nil {
		d.log.Warnf("read attribute %s: %v", name, err)
		return
	}
	value := string(raw)
	for len(value) > 0 && (value[len(value)-1] == '\n' || value[len(value)-1] == ' ') {
		value = value[:len(value)-1]
	}

	switch name {
	case "stop":
		d.dev.Stop()
	case "returnEIO":
		code, err := strconv.Atoi(value)
		if err != nil {
			d.log.Warnf("invalid returnEIO value %q: %v", value, err)
			return
		}
		if err := d.dev.SetReturnCode(code); err != nil {
			d.log.Warnf("returnEIO rejected: %v", err)
		}
	case "torn_mask":
		mask, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			d.log.Warnf("invalid torn_mask value %q: %v", value, err)
			return
		}
		if err := d.dev.SetTornMask(uint32(mask)); err != nil {
			d.log.Warnf("torn_mask rejected: %v", err)
		}
	case "torn_modulus":
		modulus, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			d.log.Warnf("invalid torn_modulus value %q: %v", value, err)
			return
		}
		if err := d.dev.SetTornModulus(uint32(modulus)); err != nil {
			d.log.Warnf("torn_modulus rejected: %v", err)
		}
	}
}

func (d *Directory) refreshLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx:
			return
		case <-ticker.C:
			d.refreshReadOnly()
		}
	}
}

func (d *Directory) refreshReadOnly() {
	values := map[string]string{
		"mode":       d.dev.Mode(),
		"state":      d.dev.State(),
		"statistics": formatStats(d.dev.Statistics()),
		"cache":      d.dev.Cache(256),
	}
	for _, name := range readOnlyAttrs {
		if err := os.WriteFile(filepath.Join(d.root, name), []byte(values[name]), 0o644); err != nil {
			d.log.Warnf("refresh attribute %s: %v", name, err)
		}
	}
}

func formatStats(s device.Stats) string {
	return fmt.Sprintf(
		"reads: %d\nwrites: %d\nflushes: %d\nfua_writes: %d\nwrite_failures: %d\nflush_failures: %d\n",
		s.Reads, s.Writes, s.Flushes, s.FUAWrites, s.WriteFailures, s.FlushFailures,
	)
}
