//go:build linux

package shmpipe

import (
	"golang.org/x/sys/unix"
)

// shmi wraps the System V shared memory calls (shmget, shmat, shmdt, shmctl).
type shmi struct{}

func create(key, size int) (*shmi, int, error) {
	flags := unix.IPC_CREAT | 0o600
	if key != KeyPrivate {
		// a keyed region must be new, so a run never adopts stale state
		flags |= unix.IPC_EXCL
	}
	id, err := unix.SysvShmGet(key, size, flags)
	if err != nil {
		return nil, -1, err
	}
	return &shmi{}, id, nil
}

func (o *shmi) attach(id int) ([]byte, error) {
	return unix.SysvShmAttach(id, 0, 0)
}

func (o *shmi) detach(mem []byte) error {
	return unix.SysvShmDetach(mem)
}

func (o *shmi) attachments(id int) (int, error) {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		return 0, err
	}
	return int(desc.Nattch), nil
}

func (o *shmi) remove(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}
