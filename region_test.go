//go:build linux

package shmpipe

import (
	"errors"
	"testing"
)

// newTestRegion creates and attaches a private region, skipping the test when
// the host does not allow System V shared memory.
func newTestRegion(t *testing.T, size int) *SharedRegion {
	t.Helper()
	r, err := CreateRegion(KeyPrivate, size)
	if err != nil {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
	if _, err := r.Attach(); err != nil {
		r.Destroy()
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() {
		if r.Attached() {
			r.Detach()
		}
		if !r.destroyed {
			r.Destroy()
		}
	})
	return r
}

func TestCreateRegionZeroSize(t *testing.T) {
	_, err := CreateRegion(KeyPrivate, 0)
	if !errors.Is(err, ErrZeroSize) {
		t.Fatalf("CreateRegion(size 0) = %v, want ErrZeroSize", err)
	}
	if KindOf(err) != KindAllocation {
		t.Errorf("kind = %v, want %v", KindOf(err), KindAllocation)
	}
}

func TestRegionLifecycle(t *testing.T) {
	r := newTestRegion(t, 4096)
	mem, err := r.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(mem) < 4096 {
		t.Fatalf("mapping is %d bytes, want at least 4096", len(mem))
	}
	if r.Addr() == 0 {
		t.Errorf("Addr = 0 while attached")
	}
	if _, err := r.Attach(); !errors.Is(err, ErrRegionAttached) {
		t.Errorf("second Attach = %v, want ErrRegionAttached", err)
	}
	if n, err := r.Attachments(); err != nil || n != 1 {
		t.Errorf("Attachments = %d, %v; want 1", n, err)
	}

	mem[0], mem[4095] = 0xAB, 0xCD

	// A second handle on the same id sees the same bytes.
	other := OpenRegion(r.ID(), r.Size())
	otherMem, err := other.Attach()
	if err != nil {
		t.Fatalf("Attach second handle: %v", err)
	}
	if otherMem[0] != 0xAB || otherMem[4095] != 0xCD {
		t.Errorf("second mapping reads %#x %#x", otherMem[0], otherMem[4095])
	}
	if n, _ := r.Attachments(); n != 2 {
		t.Errorf("Attachments with two mappings = %d, want 2", n)
	}
	if err := other.Detach(); err != nil {
		t.Fatalf("Detach second handle: %v", err)
	}

	if err := r.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := r.Detach(); !errors.Is(err, ErrRegionNotAttached) {
		t.Errorf("second Detach = %v, want ErrRegionNotAttached", err)
	}
	if _, err := r.Bytes(); !errors.Is(err, ErrRegionNotAttached) {
		t.Errorf("Bytes after Detach = %v, want ErrRegionNotAttached", err)
	}
}

func TestRegionDestroyOnce(t *testing.T) {
	r := newTestRegion(t, 128)
	if err := r.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := r.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	err := r.Destroy()
	if !errors.Is(err, ErrRegionDestroyed) {
		t.Fatalf("second Destroy = %v, want ErrRegionDestroyed", err)
	}
	if _, err := r.Attach(); !errors.Is(err, ErrRegionDestroyed) {
		t.Errorf("Attach after Destroy = %v, want ErrRegionDestroyed", err)
	}
}
