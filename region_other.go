//go:build !linux

package shmpipe

import "errors"

// ErrSharedMemoryNotAvailable is returned by region operations on platforms
// where the System V shared memory calls are not wired up.
var ErrSharedMemoryNotAvailable = errors.New("System V shared memory is only supported on linux")

// shmi is a stub; every operation returns ErrSharedMemoryNotAvailable.
type shmi struct{}

func create(key, size int) (*shmi, int, error) {
	return nil, -1, ErrSharedMemoryNotAvailable
}

func (o *shmi) attach(id int) ([]byte, error) {
	return nil, ErrSharedMemoryNotAvailable
}

func (o *shmi) detach(mem []byte) error {
	return ErrSharedMemoryNotAvailable
}

func (o *shmi) attachments(id int) (int, error) {
	return 0, ErrSharedMemoryNotAvailable
}

func (o *shmi) remove(id int) error {
	return ErrSharedMemoryNotAvailable
}
