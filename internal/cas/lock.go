package cas

import (
	"os"
	"syscall"
)

// fileLock holds an advisory flock on a sidecar lock file. Shared for
// reads, exclusive for writes. Single-process safety comes from the OS;
// the store must still not be opened from multiple processes against the
// same directory (documented constraint).
type fileLock struct {
	f *os.File
}

func acquireLock(path string, exclusive bool) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
}
