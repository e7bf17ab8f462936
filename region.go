package shmpipe

import (
	"fmt"
	"unsafe"
)

// KeyPrivate asks the kernel for a fresh region not reachable by key. The
// region id must then be passed to any other process that attaches it.
const KeyPrivate = 0

// SharedRegion is a handle to a System V shared memory segment. It holds the
// kernel id, key and size of the segment and, while attached, the mapping in
// the calling process. It never interprets the bytes it maps.
//
// A region is created once with CreateRegion by the owning process. Other
// processes obtain a handle with OpenRegion and the id handed to them.
//
//	region, _ := shmpipe.CreateRegion(shmpipe.KeyPrivate, 4096)
//	mem, _ := region.Attach()
//	// ... use mem ...
//	region.Detach()
//	region.Destroy() // once, after every process detached
//
// A SharedRegion is not safe for concurrent use; each process uses its own.
type SharedRegion struct {
	// m is the platform-specific segment implementation
	m *shmi

	id        int
	key       int
	size      int
	mem       []byte
	destroyed bool
}

// CreateRegion allocates a new shared region of size bytes tagged by key.
// A zero size is rejected with ErrZeroSize.
func CreateRegion(key, size int) (*SharedRegion, error) {
	if size <= 0 {
		return nil, newError(KindAllocation, "create region", ErrZeroSize)
	}
	m, id, err := create(key, size)
	if err != nil {
		return nil, newError(KindAllocation, "create region",
			fmt.Errorf("key %d, size %d: %w", key, size, err))
	}
	return &SharedRegion{m: m, id: id, key: key, size: size}, nil
}

// OpenRegion returns a handle to a region created by another process.
// No system call is made until Attach.
func OpenRegion(id, size int) *SharedRegion {
	return &SharedRegion{m: &shmi{}, id: id, key: KeyPrivate, size: size}
}

// ID returns the kernel identifier of the region.
func (r *SharedRegion) ID() int {
	return r.id
}

// Key returns the key the region was created with.
func (r *SharedRegion) Key() int {
	return r.key
}

// Size returns the requested size of the region in bytes.
func (r *SharedRegion) Size() int {
	return r.size
}

// Attached reports whether the region is mapped in this process.
func (r *SharedRegion) Attached() bool {
	return r.mem != nil
}

// Attach maps the region into the calling process and returns the mapping.
// The returned slice must not be used after Detach.
func (r *SharedRegion) Attach() ([]byte, error) {
	if r.destroyed {
		return nil, newError(KindAttachment, "attach region", ErrRegionDestroyed)
	}
	if r.mem != nil {
		return nil, newError(KindAttachment, "attach region", ErrRegionAttached)
	}
	mem, err := r.m.attach(r.id)
	if err != nil {
		return nil, newError(KindAttachment, "attach region", fmt.Errorf("id %d: %w", r.id, err))
	}
	if len(mem) < r.size {
		r.m.detach(mem)
		return nil, newError(KindAttachment, "attach region",
			fmt.Errorf("id %d: mapped %d bytes, expected at least %d", r.id, len(mem), r.size))
	}
	r.mem = mem
	return mem, nil
}

// Bytes returns the current mapping.
func (r *SharedRegion) Bytes() ([]byte, error) {
	if r.mem == nil {
		return nil, ErrRegionNotAttached
	}
	return r.mem, nil
}

// Addr returns the base address of the mapping, or 0 when not attached.
func (r *SharedRegion) Addr() uintptr {
	if r.mem == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

// Detach unmaps the region from the calling process.
func (r *SharedRegion) Detach() error {
	if r.mem == nil {
		return newError(KindAttachment, "detach region", ErrRegionNotAttached)
	}
	if err := r.m.detach(r.mem); err != nil {
		return newError(KindAttachment, "detach region", fmt.Errorf("id %d: %w", r.id, err))
	}
	r.mem = nil
	return nil
}

// Attachments returns the number of processes that currently have the
// region mapped, as reported by the kernel.
func (r *SharedRegion) Attachments() (int, error) {
	if r.destroyed {
		return 0, ErrRegionDestroyed
	}
	return r.m.attachments(r.id)
}

// Destroy returns the region to the system. It must be called exactly once,
// by the owner, after every process detached; a second call returns
// ErrRegionDestroyed without reaching the kernel.
func (r *SharedRegion) Destroy() error {
	if r.destroyed {
		return newError(KindAllocation, "destroy region", ErrRegionDestroyed)
	}
	if err := r.m.remove(r.id); err != nil {
		return newError(KindAllocation, "destroy region", fmt.Errorf("id %d: %w", r.id, err))
	}
	r.destroyed = true
	return nil
}
