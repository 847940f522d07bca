// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SharedFiles is the descriptor set backing one shared port session:
// the memfd holding the region plus four eventfd semaphores. The
// eventfds are created with EFD_SEMAPHORE, so a read blocks until the
// counter is positive and then decrements it by one — the exact
// semantics of sem_wait/sem_post, usable across a process boundary
// because the descriptors are inherited by the child.
type SharedFiles struct {
	// Region is the memfd the message frames live in.
	Region *os.File

	// InputFree counts free input slots (initially 2).
	InputFree *os.File

	// InputReady counts input frames waiting for the agent.
	InputReady *os.File

	// OutputFree counts free output slots (initially 1).
	OutputFree *os.File

	// OutputReady counts output frames waiting for the broker side.
	OutputReady *os.File
}

// ExtraFiles returns the descriptors in the order they must be passed
// to exec.Cmd.ExtraFiles. The child receives them at consecutive
// descriptor numbers starting at the one advertised in the
// environment (the region first, then the four semaphores).
func (f *SharedFiles) ExtraFiles() []*os.File {
	return []*os.File{f.Region, f.InputFree, f.InputReady, f.OutputFree, f.OutputReady}
}

// FilesFromFD reconstructs the descriptor set inside a spawned child
// from the environment-advertised descriptor number of the region.
// The four semaphores follow at the next consecutive numbers.
func FilesFromFD(fd int) *SharedFiles {
	return &SharedFiles{
		Region:      os.NewFile(uintptr(fd), "shm-region"),
		InputFree:   os.NewFile(uintptr(fd+1), "shm-input-free"),
		InputReady:  os.NewFile(uintptr(fd+2), "shm-input-ready"),
		OutputFree:  os.NewFile(uintptr(fd+3), "shm-output-free"),
		OutputReady: os.NewFile(uintptr(fd+4), "shm-output-ready"),
	}
}

// CloseAll closes every descriptor in the set. Safe to call after
// ReleaseRegion has already closed the region file.
func (f *SharedFiles) CloseAll() {
	for _, file := range []*os.File{f.Region, f.InputFree, f.InputReady, f.OutputFree, f.OutputReady} {
		if file != nil {
			file.Close()
		}
	}
	f.Region = nil
	f.InputFree = nil
	f.InputReady = nil
	f.OutputFree = nil
	f.OutputReady = nil
}

// createSharedFiles builds the memfd-backed region and its four
// semaphores, and maps the region into this process.
func createSharedFiles(name string, size int) (*SharedFiles, []byte, error) {
	fd, err := unix.MemfdCreate("cortex-"+name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, nil, fmt.Errorf("memfd_create: %w", err)
	}
	region := os.NewFile(uintptr(fd), "cortex-"+name)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		region.Close()
		return nil, nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		region.Close()
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}

	files := &SharedFiles{Region: region}
	for _, sem := range []struct {
		target  **os.File
		initial uint
		name    string
	}{
		{&files.InputFree, 2, "shm-input-free"},
		{&files.InputReady, 0, "shm-input-ready"},
		{&files.OutputFree, 1, "shm-output-free"},
		{&files.OutputReady, 0, "shm-output-ready"},
	} {
		semFD, err := unix.Eventfd(sem.initial, unix.EFD_CLOEXEC|unix.EFD_SEMAPHORE)
		if err != nil {
			unix.Munmap(data)
			files.CloseAll()
			return nil, nil, fmt.Errorf("eventfd(%s): %w", sem.name, err)
		}
		*sem.target = os.NewFile(uintptr(semFD), sem.name)
	}

	return files, data, nil
}

// semWait blocks until the semaphore counter is positive and
// decrements it by one.
func semWait(sem *os.File) error {
	fd := int(sem.Fd())
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("eventfd wait on %s: %w", sem.Name(), err)
		}
		return nil
	}
}

// semPost increments the semaphore counter by one, waking one waiter.
func semPost(sem *os.File) error {
	fd := int(sem.Fd())
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("eventfd post on %s: %w", sem.Name(), err)
		}
		return nil
	}
}

// semTryWait decrements the semaphore if its counter is positive and
// reports whether it did. Only valid when this side is the semaphore's
// sole consumer, which holds for every semaphore in a shared port.
func semTryWait(sem *os.File) (bool, error) {
	fd := int(sem.Fd())
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("eventfd poll on %s: %w", sem.Name(), err)
		}
		if n == 0 {
			return false, nil
		}
		return true, semWait(sem)
	}
}
