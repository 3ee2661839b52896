package adminfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dory-project/dory/pkg/backend"
	"github.com/dory-project/dory/pkg/device"
)

func newTestDevice(t *testing.T, name string) *device.Device {
	t.Helper()
	mem, err := backend.NewMemory(4096 * 4)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	cfg := device.DefaultConfig()
	cfg.Name = name
	cfg.BackingPath = "test"
	dev, err := device.New(cfg, mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestDirectoryCreatesAttributeFiles(t *testing.T) {
	dev := newTestDevice(t, "file1")
	root := filepath.Join(t.TempDir(), "file1")

	dir, err := NewDirectory(dev, root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	t.Cleanup(func() { dir.Close() })

	for _, name := range append(readOnlyAttrs, "stop", "returnEIO", "torn_mask", "torn_modulus") {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("expected attribute file %s: %v", name, err)
		}
	}
}

func TestDirectoryWriteStopStopsDevice(t *testing.T) {
	dev := newTestDevice(t, "file2")
	root := filepath.Join(t.TempDir(), "file2")

	dir, err := NewDirectory(dev, root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	t.Cleanup(func() { dir.Close() })

	if err := os.WriteFile(filepath.Join(root, "stop"), []byte("1"), 0o644); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	waitFor(t, time.Second, func() bool { return dev.Mode() == "stop\n" })
}

func TestDirectoryWriteTornMaskRejectsZero(t *testing.T) {
	dev := newTestDevice(t, "file3")
	root := filepath.Join(t.TempDir(), "file3")

	dir, err := NewDirectory(dev, root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	t.Cleanup(func() { dir.Close() })

	if err := os.WriteFile(filepath.Join(root, "torn_mask"), []byte("0"), 0o644); err != nil {
		t.Fatalf("write torn_mask: %v", err)
	}
	// Give the debounced handler time to run and reject the value;
	// the mask should remain at its default.
	time.Sleep(150 * time.Millisecond)
	if dev.TornMask() == 0 {
		t.Errorf("torn_mask accepted zero value")
	}
}

func TestDirectoryRefreshUpdatesReadOnlyFiles(t *testing.T) {
	dev := newTestDevice(t, "file4")
	root := filepath.Join(t.TempDir(), "file4")

	dir, err := NewDirectory(dev, root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	t.Cleanup(func() { dir.Close() })

	dev.Stop()
	waitFor(t, time.Second, func() bool {
		data, err := os.ReadFile(filepath.Join(root, "mode"))
		return err == nil && string(data) == "stop\n"
	})
}
